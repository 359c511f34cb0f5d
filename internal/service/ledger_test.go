package service

import (
	"context"
	"testing"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestReferralLedger_ResolveReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.register(t, "r@example.com", "referrer", "")

	got, err := f.referrals.ResolveReferrer(ctx, r.ReferralCode)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)

	_, err = f.referrals.ResolveReferrer(ctx, "DOES-NOT-EXIST")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.referrals.ResolveReferrer(ctx, "")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

type countingUsers struct {
	repository.UserRepository
	lookups int
}

func (c *countingUsers) GetByReferralCode(context.Context, string) (*model.User, error) {
	c.lookups++
	return nil, errs.ErrNotFound
}

func TestReferralLedger_ResolveReferrerSkipsMalformedCodes(t *testing.T) {
	users := &countingUsers{}
	l := NewReferralLedger(users, nil)
	ctx := context.Background()
	for _, code := range []string{"", "DOES-NOT-EXIST", "ref12345", "REF1234", "REF123456", "REF 1234"} {
		_, err := l.ResolveReferrer(ctx, code)
		require.ErrorIs(t, err, errs.ErrNotFound, code)
	}
	require.Zero(t, users.lookups)

	_, err := l.ResolveReferrer(ctx, "REF12345")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 1, users.lookups)
}

func TestReferralLedger_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.register(t, "r@example.com", "referrer", "")
	a := f.register(t, "a@example.com", "alice", "")

	_, err := f.referrals.RecordPending(ctx, r.ID, r.ID)
	require.ErrorIs(t, err, errs.ErrValidation)

	err = f.referrals.MarkSuccessful(ctx, r.ID, a.ID)
	require.ErrorIs(t, err, errs.ErrReferralNotFound)

	id, err := f.referrals.RecordPending(ctx, r.ID, a.ID)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	_, err = f.referrals.RecordPending(ctx, r.ID, a.ID)
	require.ErrorIs(t, err, errs.ErrDuplicateReferral)

	n, err := f.referrals.CountSuccessful(ctx, r.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, f.referrals.MarkSuccessful(ctx, r.ID, a.ID))
	// already successful: no-op
	require.NoError(t, f.referrals.MarkSuccessful(ctx, r.ID, a.ID))

	ref, err := f.referrals.Get(ctx, r.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReferralSuccessful, ref.Status)
	require.Equal(t, id, ref.ID)

	n, err = f.referrals.CountSuccessful(ctx, r.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	list, err := f.referrals.ListForReferrer(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "alice", list[0].ReferredUsername)
	require.Equal(t, "a@example.com", list[0].ReferredEmail)
}

func TestRewardLedger_GrantAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.Must(uuid.NewV4())

	_, err := f.rewards.Grant(ctx, model.Grant{UserID: user, Amount: 0, Description: "zero"})
	require.ErrorIs(t, err, errs.ErrValidation)

	refID := uuid.NullUUID{UUID: uuid.Must(uuid.NewV4()), Valid: true}
	first, err := f.rewards.Grant(ctx, model.Grant{UserID: user, Amount: 100, Description: "ref", ReferralID: refID})
	require.NoError(t, err)
	again, err := f.rewards.Grant(ctx, model.Grant{UserID: user, Amount: 100, Description: "ref", ReferralID: refID})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	// grants without a referral are always additive
	_, err = f.rewards.Grant(ctx, model.Grant{UserID: user, Amount: 25, Description: "bonus"})
	require.NoError(t, err)
	_, err = f.rewards.Grant(ctx, model.Grant{UserID: user, Amount: 25, Description: "bonus"})
	require.NoError(t, err)

	sum, err := f.rewards.ListForUser(ctx, user)
	require.NoError(t, err)
	require.EqualValues(t, 150, sum.Total)
	require.Len(t, sum.Rewards, 3)

	empty, err := f.rewards.ListForUser(ctx, uuid.Must(uuid.NewV4()))
	require.NoError(t, err)
	require.Zero(t, empty.Total)
	require.NotNil(t, empty.Rewards)
}
