// Package id provides UUIDv7 identifiers for cost layers and the entities they reference.
// UUIDv7 is time-ordered, so layer ids sort roughly by creation time.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a new UUIDv7, falling back to V4 if the clock source fails.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}

// ParseList parses a list of ids, stopping at the first invalid entry.
func ParseList(values []string) ([]ID, error) {
	out := make([]ID, 0, len(values))
	for _, s := range values {
		v, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
