// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/refkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to registered users.
type UserRepository interface {
	// Create inserts a new user. Uniqueness violations map to errs.ErrEmailTaken,
	// errs.ErrUsernameTaken or errs.ErrReferralCodeTaken.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByIdentifier loads the first user whose email or username equals identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*model.User, error)
	// GetByReferralCode loads the owner of a referral code.
	GetByReferralCode(ctx context.Context, code string) (*model.User, error)
	// ReferralCodeExists reports whether any user holds the code.
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	// UpdatePasswordHash replaces the stored credential.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	// Ping checks storage liveness.
	Ping(ctx context.Context) error
}
