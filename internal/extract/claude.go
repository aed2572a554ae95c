package extract

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/entitymesh/entitymesh/internal/models"
)

// extractionPromptTemplate asks the model for structured entity drafts.
// Field and column descriptions are injected via XML tags to prevent
// prompt injection from user-supplied data.
const extractionPromptTemplate = `You are an entity extraction system for data-dictionary analysis. Identify the business entities described by the selected fields and columns.

For each entity provide:
- entity_type: One of "field", "segment", "value", "metadata", "document", "object", "array", "asset", "column", "business_metric", "relationship", "derived_insight", "operational_rule"
- entity_name: The canonical name of the entity
- entity_value: The value or identifier the entity refers to
- confidence: 0.0-1.0 how confident you are this is a real entity
- description: Short description of the entity
- source_field: The field or column this entity was derived from
- attributes: Array of {attribute_name, attribute_value, confidence, description} (may be empty)

Return a JSON array of entities. If nothing worth extracting, return [].

<instruction>%s</instruction>

<fields>%s</fields>

<columns>%s</columns>

Extract entities as JSON array:`

// minDraftConfidence filters out extractions the model itself doubts.
const minDraftConfidence = 0.5

// ClaudeExtractor identifies entity drafts using the Claude API.
type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeExtractor creates a new Claude-backed extractor.
func NewClaudeExtractor(apiKey, model string, logger *slog.Logger) *ClaudeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeExtractor{
		client: &c,
		model:  model,
		logger: logger,
	}
}

// Extract asks Claude for entity drafts over the attached fields and columns.
func (e *ClaudeExtractor) Extract(ctx context.Context, fields []DataField, columns []DataColumn, instruction string) ([]Draft, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate,
		xmlEscape(instruction),
		xmlEscape(describeFields(fields)),
		xmlEscape(describeColumns(columns)),
	)

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise entity extraction system. Output only valid JSON."},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = resp.Content[i].Text
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("empty response from Claude")
	}

	e.logger.Debug("claude extraction response", "response", responseText)

	var drafts []Draft
	if jsonErr := json.Unmarshal([]byte(responseText), &drafts); jsonErr != nil {
		return nil, fmt.Errorf("parsing extraction response: %w (raw: %s)", jsonErr, responseText)
	}

	filtered := make([]Draft, 0, len(drafts))
	for i := range drafts {
		d := drafts[i]
		if d.Confidence < minDraftConfidence {
			continue
		}
		if !d.EntityType.IsValid() {
			e.logger.Warn("extraction: unknown entity type, defaulting to metadata",
				"type", d.EntityType, "name", d.EntityName)
			d.EntityType = models.EntityTypeMetadata
		}
		filtered = append(filtered, d)
	}

	e.logger.Info("extracted entity drafts", "total", len(drafts), "kept", len(filtered))
	return filtered, nil
}

func describeFields(fields []DataField) string {
	var b strings.Builder
	for i := range fields {
		f := &fields[i]
		fmt.Fprintf(&b, "- %s: %s", f.FieldName, f.Description)
		if f.Definition != "" {
			fmt.Fprintf(&b, " (definition: %s)", f.Definition)
		}
		if len(f.ValidValues) > 0 {
			fmt.Fprintf(&b, " [valid values: %s]", strings.Join(f.ValidValues, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func describeColumns(columns []DataColumn) string {
	var b strings.Builder
	for i := range columns {
		c := &columns[i]
		fmt.Fprintf(&b, "- %s (%s): %s\n", c.ColumnName, c.ColumnType, c.Description)
	}
	return b.String()
}

// xmlEscape replaces characters with special meaning in XML so user content
// cannot break out of its delimiting tags.
func xmlEscape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
