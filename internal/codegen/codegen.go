// Package codegen mints referral codes.
package codegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/and161185/refkeeper/internal/errs"
)

const (
	// Alphabet is the set referral codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Length of a referral code.
	Length = 8
	// DefaultAttempts bounds the collision retry loop.
	DefaultAttempts = 10
)

// Checker reports whether a code is already assigned.
type Checker interface {
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
}

// Generator produces referral codes that were free at the time of the check.
// The storage unique constraint remains the final arbiter.
type Generator struct {
	check    Checker
	attempts int
	draw     func() (string, error)
}

// New returns a Generator bounded to DefaultAttempts.
func New(check Checker) *Generator {
	return &Generator{check: check, attempts: DefaultAttempts, draw: Random}
}

// Generate returns a code not currently stored, or ErrGenerationExhausted.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("draw referral code: %w", err)
		}
		taken, err := g.check.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errs.ErrGenerationExhausted
}

var alphabetLen = big.NewInt(int64(len(Alphabet)))

// Random draws a code uniformly from Alphabet using crypto/rand.
func Random() (string, error) {
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b), nil
}

// Valid reports whether s has the shape of a referral code.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
