package repository

import (
	"context"

	"github.com/and161185/refkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ReferralRepository stores referral rows. At most one row exists per referred user.
type ReferralRepository interface {
	// InsertPending creates a pending referral; errs.ErrDuplicateReferral on conflict.
	InsertPending(ctx context.Context, r *model.Referral) error
	// GetByPair loads the referral for (referrer, referred); errs.ErrNotFound if absent.
	GetByPair(ctx context.Context, referrerID, referredUserID uuid.UUID) (*model.Referral, error)
	// MarkSuccessful moves a pending row to successful and reports whether a row changed.
	MarkSuccessful(ctx context.Context, referrerID, referredUserID uuid.UUID) (bool, error)
	// ListByReferrer returns referrals with referred user details, newest first.
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]model.Referral, error)
	// CountSuccessful counts successful referrals of a referrer.
	CountSuccessful(ctx context.Context, referrerID uuid.UUID) (int64, error)
	// ListUnrewarded returns up to limit successful referrals that have no
	// reward yet, oldest first.
	ListUnrewarded(ctx context.Context, limit int) ([]model.Referral, error)
}

// RewardRepository stores append-only reward rows.
type RewardRepository interface {
	// Insert appends a reward. When ReferralID is set and a reward for that referral
	// already exists, the existing row is loaded into rw and created is false.
	Insert(ctx context.Context, rw *model.Reward) (created bool, err error)
	// ListByUser returns rewards of a user, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Reward, error)
}
