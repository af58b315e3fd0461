// Package uuid generates crawl run identifiers.
package uuid

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, which sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate uuid7")
	}
	return id.String(), nil
}

// MustRunID returns a run identifier, falling back to a random UUID when the
// v7 generator fails.
func (g Generator) MustRunID() string {
	if id, err := g.NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}
