package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/refkeeper/internal/codegen"
	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// ReferralLedger records referral relationships and their pending -> successful transition.
type ReferralLedger struct {
	users     repository.UserRepository
	referrals repository.ReferralRepository
}

// NewReferralLedger constructs a ReferralLedger.
func NewReferralLedger(users repository.UserRepository, referrals repository.ReferralRepository) *ReferralLedger {
	return &ReferralLedger{users: users, referrals: referrals}
}

// ResolveReferrer returns the owner of code, or errs.ErrNotFound. Callers treat
// ErrNotFound as "no referrer" rather than a failure. Codes that cannot have
// been issued are rejected without a lookup.
func (l *ReferralLedger) ResolveReferrer(ctx context.Context, code string) (*model.User, error) {
	if !codegen.Valid(code) {
		return nil, errs.ErrNotFound
	}
	return l.users.GetByReferralCode(ctx, code)
}

// RecordPending creates a pending referral and returns its id.
// A second call for the same referred user fails with errs.ErrDuplicateReferral.
func (l *ReferralLedger) RecordPending(ctx context.Context, referrerID, referredUserID uuid.UUID) (uuid.UUID, error) {
	if referrerID == referredUserID {
		return uuid.Nil, errs.Validation("user cannot refer themselves")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("referral id: %w", err)
	}
	ref := &model.Referral{ID: id, ReferrerID: referrerID, ReferredUserID: referredUserID}
	if err := l.referrals.InsertPending(ctx, ref); err != nil {
		return uuid.Nil, err
	}
	return ref.ID, nil
}

// Get loads the referral for a (referrer, referred user) pair.
func (l *ReferralLedger) Get(ctx context.Context, referrerID, referredUserID uuid.UUID) (*model.Referral, error) {
	ref, err := l.referrals.GetByPair(ctx, referrerID, referredUserID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrReferralNotFound
	}
	return ref, err
}

// MarkSuccessful transitions the pair's referral to successful. Already
// successful referrals are left as they are; a missing referral is
// errs.ErrReferralNotFound.
func (l *ReferralLedger) MarkSuccessful(ctx context.Context, referrerID, referredUserID uuid.UUID) error {
	changed, err := l.referrals.MarkSuccessful(ctx, referrerID, referredUserID)
	if err != nil || changed {
		return err
	}
	// nothing moved: either already successful or absent
	_, err = l.Get(ctx, referrerID, referredUserID)
	return err
}

// ListForReferrer returns the referrer's referrals, newest first.
func (l *ReferralLedger) ListForReferrer(ctx context.Context, referrerID uuid.UUID) ([]model.Referral, error) {
	return l.referrals.ListByReferrer(ctx, referrerID)
}

// ListUnrewarded returns up to limit successful referrals still waiting for
// their reward, oldest first.
func (l *ReferralLedger) ListUnrewarded(ctx context.Context, limit int) ([]model.Referral, error) {
	return l.referrals.ListUnrewarded(ctx, limit)
}

// CountSuccessful returns the number of successful referrals.
func (l *ReferralLedger) CountSuccessful(ctx context.Context, referrerID uuid.UUID) (int64, error) {
	return l.referrals.CountSuccessful(ctx, referrerID)
}

// RewardLedger records append-only point grants.
type RewardLedger struct {
	rewards repository.RewardRepository
}

// NewRewardLedger constructs a RewardLedger.
func NewRewardLedger(rewards repository.RewardRepository) *RewardLedger {
	return &RewardLedger{rewards: rewards}
}

// Grant appends a reward. Grants carrying a ReferralID settle that referral
// once; repeating the grant returns the reward already recorded.
func (l *RewardLedger) Grant(ctx context.Context, g model.Grant) (model.Reward, error) {
	if g.Amount <= 0 {
		return model.Reward{}, errs.Validation("reward amount must be positive")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Reward{}, fmt.Errorf("reward id: %w", err)
	}
	rw := model.Reward{
		ID:          id,
		UserID:      g.UserID,
		Amount:      g.Amount,
		Description: g.Description,
		ReferralID:  g.ReferralID,
	}
	if _, err := l.rewards.Insert(ctx, &rw); err != nil {
		return model.Reward{}, err
	}
	return rw, nil
}

// ListForUser returns the user's rewards newest first with their total.
func (l *RewardLedger) ListForUser(ctx context.Context, userID uuid.UUID) (model.RewardSummary, error) {
	list, err := l.rewards.ListByUser(ctx, userID)
	if err != nil {
		return model.RewardSummary{}, err
	}
	var total int64
	for _, rw := range list {
		total += rw.Amount
	}
	return model.RewardSummary{Total: total, Rewards: list}, nil
}

// ReferralRewardDescription is the description of the reward for referring referredUserID.
func ReferralRewardDescription(referredUserID uuid.UUID) string {
	return "Reward for successful referral of user ID " + referredUserID.String()
}
