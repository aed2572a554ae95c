// Package intent deterministically classifies an incoming request into one
// of a fixed set of operations.
package intent

import (
	"log/slog"
	"strings"
	"unicode"
)

// Intent is the classified purpose of an incoming request.
type Intent string

const (
	IntentExtract         Intent = "extract"
	IntentRead            Intent = "read"
	IntentUpdateEntity    Intent = "update_entity"
	IntentUpdateAttribute Intent = "update_attribute"
	IntentDeleteEntity    Intent = "delete_entity"
	IntentDeleteAttribute Intent = "delete_attribute"
)

// ValidIntents is the set of all valid intents.
var ValidIntents = []Intent{
	IntentExtract,
	IntentRead,
	IntentUpdateEntity,
	IntentUpdateAttribute,
	IntentDeleteEntity,
	IntentDeleteAttribute,
}

// IsValid returns true if the intent is recognized.
func (in Intent) IsValid() bool {
	for i := range ValidIntents {
		if in == ValidIntents[i] {
			return true
		}
	}
	return false
}

// Hints are the structured cues that accompany the free-text message.
type Hints struct {
	// HasEntityID is set when the request already names an entity.
	HasEntityID bool

	// HasAttributeID is set when the request names one or more attributes.
	// It promotes update/delete intents from entity scope to attribute scope.
	HasAttributeID bool

	// HasExtractionFields is set when selected data fields or columns are
	// attached to the request.
	HasExtractionFields bool
}

// Classifier maps a request to an intent.
type Classifier interface {
	Classify(message string, hints Hints) Intent
}

// HeuristicClassifier uses keyword-based verb cues. It is stateless and
// deterministic: the same message and hints always yield the same intent.
type HeuristicClassifier struct {
	logger *slog.Logger
}

// NewClassifier creates a new heuristic-based classifier.
func NewClassifier(logger *slog.Logger) *HeuristicClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeuristicClassifier{logger: logger}
}

// deletePatterns match text that asks for removal.
var deletePatterns = []string{
	"delete", "remove", "drop", "erase", "clear out", "get rid of",
}

// updatePatterns match text that asks for modification or creation.
var updatePatterns = []string{
	"update", "modify", "change", "edit", "set", "rename",
	"create", "build", "make", "add",
}

// extractPatterns match text that asks for extraction from attached data.
var extractPatterns = []string{
	"extract", "find", "identify", "discover", "analyze", "pull out",
}

// readPatterns match text that asks to view existing state.
var readPatterns = []string{
	"list", "show", "display", "get", "read", "view", "what",
}

// verbFamily groups a verb cue set with the intents it resolves to.
// Order is the tie-break precedence: when several families score equally,
// the earlier (more specific) one wins.
type verbFamily struct {
	patterns  []string
	entity    Intent
	attribute Intent
}

var families = []verbFamily{
	{deletePatterns, IntentDeleteEntity, IntentDeleteAttribute},
	{updatePatterns, IntentUpdateEntity, IntentUpdateAttribute},
	{extractPatterns, IntentExtract, IntentExtract},
	{readPatterns, IntentRead, IntentRead},
}

// Classify determines the intent from the message and structured hints.
//
// Precedence: for delete/update verbs, an attribute identifier in the hints
// promotes the intent to attribute scope. Among competing verb cues the
// highest-scoring family wins, ties resolved in family order (delete before
// update before extract before read). When no verb cue matches at all, the
// fallback is extract if extraction fields are attached, else read.
func (c *HeuristicClassifier) Classify(message string, hints Hints) Intent {
	words := normalizeWords(message)

	bestIdx := -1
	bestScore := 0
	for i := range families {
		score := 0
		for _, p := range families[i].patterns {
			if strings.Contains(words, " "+p+" ") {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	var result Intent
	switch {
	case bestIdx < 0 && hints.HasExtractionFields:
		result = IntentExtract
	case bestIdx < 0:
		result = IntentRead
	case hints.HasAttributeID:
		result = families[bestIdx].attribute
	default:
		result = families[bestIdx].entity
	}

	c.logger.Debug("classified request",
		"intent", result,
		"score", bestScore,
		"has_entity_id", hints.HasEntityID,
		"has_attribute_id", hints.HasAttributeID,
		"has_fields", hints.HasExtractionFields,
		"message_prefix", truncate(message, 60))
	return result
}

// normalizeWords lowercases the message, replaces punctuation with spaces,
// and pads with spaces so cues only match whole words. "set" must not fire
// on "asset", nor "get" on "budget".
func normalizeWords(message string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, message)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}
