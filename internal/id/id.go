// Package id provides identifier generation for correlation ids.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator interface {
	NewID() (string, error)
}

// UUID creates UUIDv7 strings, which sort by creation time.
type UUID struct{}

// NewUUID returns a UUID generator.
func NewUUID() UUID {
	return UUID{}
}

// NewID returns a UUIDv7 string.
func (UUID) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// Func adapts a plain function to Generator.
type Func func() (string, error)

// NewID calls f.
func (f Func) NewID() (string, error) {
	return f()
}
