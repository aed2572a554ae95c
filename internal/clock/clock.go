// Package clock supplies timestamps and unique identifiers.
package clock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider abstracts time and ID generation so that engine behavior is
// deterministic under test.
type Provider interface {
	// Now returns the current time in UTC.
	Now() time.Time

	// NewID returns a unique identifier with the given prefix,
	// e.g. NewID("entity") -> "entity_1f3a9c02".
	NewID(prefix string) string
}

// SystemProvider is the production Provider backed by the wall clock and
// random UUIDs.
type SystemProvider struct{}

// NewSystemProvider creates a SystemProvider.
func NewSystemProvider() *SystemProvider { return &SystemProvider{} }

// Now returns the current UTC time.
func (*SystemProvider) Now() time.Time { return time.Now().UTC() }

// NewID returns prefix + "_" + the first 8 hex chars of a random UUID.
func (*SystemProvider) NewID(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%x", prefix, id[:4])
}
