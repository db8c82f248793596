// Package uuid generates batch and request identifiers.
package uuid

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, so batch IDs sort by submission time.
// The zero value reads from crypto/rand.
type Generator struct {
	rand io.Reader
}

// New creates a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{}
}

// NewWithReader creates a Generator that draws its random bits from r.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// NewID returns a UUID v7 string.
func (g *Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g == nil || g.rand == nil {
		id, err = uuid.NewV7()
	} else {
		id, err = uuid.NewV7FromReader(g.rand)
	}
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// RequestID keeps a caller-supplied request ID when it is a UUID and mints a
// fresh one otherwise, so arbitrary header text never reaches the logs.
func RequestID(header string) string {
	if Valid(header) {
		return header
	}
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Valid reports whether s is a well-formed UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
