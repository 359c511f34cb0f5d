// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates failed credential verification.
	ErrUnauthorized = errors.New("invalid credentials")

	// ErrUnauthenticated indicates that no session token was presented.
	ErrUnauthenticated = errors.New("no token provided")

	// ErrInvalidToken indicates a malformed, expired or foreign token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation not covered by a more specific sentinel.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDuplicateUser indicates that the email or username is already registered.
	ErrDuplicateUser = errors.New("duplicate user")

	// ErrDuplicateReferral indicates a referral already exists for the referred user.
	ErrDuplicateReferral = errors.New("duplicate referral")

	// ErrReferralNotFound indicates that no referral row exists for a (referrer, referred) pair.
	ErrReferralNotFound = errors.New("referral not found")

	// ErrReferralCodeTaken indicates the storage rejected a referral code as non-unique.
	ErrReferralCodeTaken = errors.New("referral code taken")

	// ErrGenerationExhausted indicates the code generator ran out of attempts.
	ErrGenerationExhausted = errors.New("referral code generation exhausted")

	// ErrPersistence marks storage failures (connectivity, unexpected driver errors).
	ErrPersistence = errors.New("persistence error")

	// ErrNotification marks notification delivery failures. Never surfaced to callers.
	ErrNotification = errors.New("notification failure")
)

// Field-specific duplicates; both match ErrDuplicateUser with errors.Is.
var (
	ErrEmailTaken    = fmt.Errorf("email already in use: %w", ErrDuplicateUser)
	ErrUsernameTaken = fmt.Errorf("username already in use: %w", ErrDuplicateUser)
)

// Validation wraps a human readable reason as ErrValidation.
func Validation(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// Persistence wraps a storage error as ErrPersistence, keeping the cause in the chain.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// ValidationReason returns the reason passed to Validation, or the full message otherwise.
func ValidationReason(err error) string {
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
