package postgres

import (
	"context"
	"errors"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, username, password_hash, referral_code, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, username, password_hash, referral_code)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, u.ID, u.Email, u.Username, u.PasswordHash, u.ReferralCode).Scan(&u.CreatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case "users_email_key":
			return errs.ErrEmailTaken
		case "users_username_key":
			return errs.ErrUsernameTaken
		case "users_referral_code_key":
			return errs.ErrReferralCodeTaken
		default:
			return errs.ErrDuplicateUser
		}
	}
	return errs.Persistence("insert user", err)
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, email))
}

// GetByIdentifier selects a user by email or username.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1 OR username=$1 LIMIT 1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, identifier))
}

// GetByReferralCode selects the owner of a referral code.
func (r *UserRepo) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE referral_code=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, code))
}

// ReferralCodeExists reports whether the code is already assigned.
func (r *UserRepo) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE referral_code=$1)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, code).Scan(&exists); err != nil {
		return false, errs.Persistence("check referral code", err)
	}
	return exists, nil
}

// UpdatePasswordHash replaces the stored credential of a user.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `UPDATE users SET password_hash=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash)
	if err != nil {
		return errs.Persistence("update password", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Ping checks that the pool can reach the database.
func (r *UserRepo) Ping(ctx context.Context) error {
	return errs.Persistence("ping", r.db.Pool.Ping(ctx))
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.ReferralCode, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence("select user", err)
	}
	return &u, nil
}
