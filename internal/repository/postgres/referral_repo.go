package postgres

import (
	"context"
	"errors"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ReferralRepo implements ReferralRepository using PostgreSQL.
type ReferralRepo struct{ db *DB }

// NewReferralRepo constructs a referral repository.
func NewReferralRepo(db *DB) *ReferralRepo { return &ReferralRepo{db: db} }

// InsertPending creates a pending referral row.
func (r *ReferralRepo) InsertPending(ctx context.Context, ref *model.Referral) error {
	const q = `
INSERT INTO referrals (id, referrer_id, referred_user_id, status)
VALUES ($1, $2, $3, 'pending')
RETURNING date_referred`
	err := r.db.Pool.QueryRow(ctx, q, ref.ID, ref.ReferrerID, ref.ReferredUserID).Scan(&ref.DateReferred)
	if _, ok := uniqueViolation(err); ok {
		return errs.ErrDuplicateReferral
	}
	if err != nil {
		return errs.Persistence("insert referral", err)
	}
	ref.Status = model.ReferralPending
	return nil
}

// GetByPair selects the referral for a referrer and referred user.
func (r *ReferralRepo) GetByPair(ctx context.Context, referrerID, referredUserID uuid.UUID) (*model.Referral, error) {
	const q = `
SELECT id, referrer_id, referred_user_id, status, date_referred
FROM referrals WHERE referrer_id=$1 AND referred_user_id=$2`
	var (
		ref    model.Referral
		status string
	)
	err := r.db.Pool.QueryRow(ctx, q, referrerID, referredUserID).
		Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &status, &ref.DateReferred)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence("select referral", err)
	}
	ref.Status = model.ReferralStatus(status)
	return &ref, nil
}

// MarkSuccessful moves a pending referral to successful. Rows already successful are left alone.
func (r *ReferralRepo) MarkSuccessful(ctx context.Context, referrerID, referredUserID uuid.UUID) (bool, error) {
	const q = `
UPDATE referrals SET status='successful'
WHERE referrer_id=$1 AND referred_user_id=$2 AND status='pending'`
	tag, err := r.db.Pool.Exec(ctx, q, referrerID, referredUserID)
	if err != nil {
		return false, errs.Persistence("mark referral successful", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByReferrer returns a referrer's referrals joined with the referred users, newest first.
func (r *ReferralRepo) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]model.Referral, error) {
	const q = `
SELECT r.id, r.referrer_id, r.referred_user_id, r.status, r.date_referred, u.username, u.email
FROM referrals r
JOIN users u ON u.id = r.referred_user_id
WHERE r.referrer_id=$1
ORDER BY r.date_referred DESC`
	rows, err := r.db.Pool.Query(ctx, q, referrerID)
	if err != nil {
		return nil, errs.Persistence("list referrals", err)
	}
	defer rows.Close()

	out := []model.Referral{}
	for rows.Next() {
		var (
			ref    model.Referral
			status string
		)
		if err := rows.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &status, &ref.DateReferred,
			&ref.ReferredUsername, &ref.ReferredEmail); err != nil {
			return nil, errs.Persistence("scan referral", err)
		}
		ref.Status = model.ReferralStatus(status)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list referrals", err)
	}
	return out, nil
}

// CountSuccessful counts successful referrals of a referrer.
func (r *ReferralRepo) CountSuccessful(ctx context.Context, referrerID uuid.UUID) (int64, error) {
	const q = `SELECT COUNT(*) FROM referrals WHERE referrer_id=$1 AND status='successful'`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, referrerID).Scan(&n); err != nil {
		return 0, errs.Persistence("count referrals", err)
	}
	return n, nil
}

// ListUnrewarded returns successful referrals that no reward row settles yet, oldest first.
func (r *ReferralRepo) ListUnrewarded(ctx context.Context, limit int) ([]model.Referral, error) {
	const q = `
SELECT r.id, r.referrer_id, r.referred_user_id, r.status, r.date_referred
FROM referrals r
LEFT JOIN rewards w ON w.referral_id = r.id
WHERE r.status='successful' AND w.id IS NULL
ORDER BY r.date_referred
LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, errs.Persistence("list unrewarded referrals", err)
	}
	defer rows.Close()

	out := []model.Referral{}
	for rows.Next() {
		var (
			ref    model.Referral
			status string
		)
		if err := rows.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &status, &ref.DateReferred); err != nil {
			return nil, errs.Persistence("scan referral", err)
		}
		ref.Status = model.ReferralStatus(status)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list unrewarded referrals", err)
	}
	return out, nil
}
