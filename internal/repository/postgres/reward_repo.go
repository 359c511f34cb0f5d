package postgres

import (
	"context"
	"errors"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RewardRepo implements RewardRepository using PostgreSQL.
type RewardRepo struct{ db *DB }

// NewRewardRepo constructs a reward repository.
func NewRewardRepo(db *DB) *RewardRepo { return &RewardRepo{db: db} }

// Insert appends a reward. A second reward for the same referral is not created;
// the existing one is returned instead.
func (r *RewardRepo) Insert(ctx context.Context, rw *model.Reward) (bool, error) {
	const ins = `
INSERT INTO rewards (id, user_id, amount, description, referral_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (referral_id) DO NOTHING
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, ins, rw.ID, rw.UserID, rw.Amount, rw.Description, rw.ReferralID).Scan(&rw.CreatedAt)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows) && rw.ReferralID.Valid:
		// conflict on referral_id: load the reward that already settled this referral
	default:
		return false, errs.Persistence("insert reward", err)
	}

	const sel = `
SELECT id, user_id, amount, description, created_at
FROM rewards WHERE referral_id=$1`
	if err := r.db.Pool.QueryRow(ctx, sel, rw.ReferralID.UUID).
		Scan(&rw.ID, &rw.UserID, &rw.Amount, &rw.Description, &rw.CreatedAt); err != nil {
		return false, errs.Persistence("select settled reward", err)
	}
	return false, nil
}

// ListByUser returns a user's rewards newest first.
func (r *RewardRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Reward, error) {
	const q = `
SELECT id, user_id, amount, description, created_at
FROM rewards
WHERE user_id=$1
ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, errs.Persistence("list rewards", err)
	}
	defer rows.Close()

	out := []model.Reward{}
	for rows.Next() {
		var rw model.Reward
		if err := rows.Scan(&rw.ID, &rw.UserID, &rw.Amount, &rw.Description, &rw.CreatedAt); err != nil {
			return nil, errs.Persistence("scan reward", err)
		}
		out = append(out, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list rewards", err)
	}
	return out, nil
}
