// Package id generates job and request identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces identifiers.
type Generator interface {
	NewID() (string, error)
}

// UUIDv7 creates time-ordered job IDs so listings sort by submission.
type UUIDv7 struct{}

// NewID returns a UUIDv7 string.
func (UUIDv7) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// Request returns a random ID for correlating HTTP requests.
func Request() string {
	return uuid.NewString()
}
