// Package auth gates room admission on a stored password hash.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Gate hashes and verifies room passwords. bcrypt is deliberately slow
// and salted, so brute-forcing a room password stays expensive.
type Gate struct {
	cost int
}

func NewGate(cost int) *Gate {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Gate{cost: cost}
}

func (g *Gate) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), g.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether password matches hash. The comparison itself is
// constant-time inside bcrypt; callers must still collapse "wrong
// password" and "no such room" into one external error.
func (g *Gate) Verify(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
