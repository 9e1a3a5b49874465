// Package gate implements the four-digit access code that gates entry
// into the presentation.
package gate

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Gate checks submitted access codes and mints session IDs for accepted
// ones.
type Gate struct {
	code string
}

func New(code string) *Gate {
	return &Gate{code: code}
}

// Verify compares the submitted code in constant time.
func (g *Gate) Verify(code string) bool {
	if len(code) != len(g.code) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(g.code)) == 1
}

// Admit verifies the code and, on success, returns a fresh session ID.
func (g *Gate) Admit(code string) (string, bool) {
	if !g.Verify(code) {
		return "", false
	}
	return uuid.NewString(), true
}
