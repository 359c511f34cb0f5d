package memory

import (
	"context"
	"testing"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func newUser(email, username, code string) *model.User {
	return &model.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        email,
		Username:     username,
		PasswordHash: "hash",
		ReferralCode: code,
	}
}

func TestStore_Create_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := newUser("a@example.com", "alice", "AAAA1111")
	require.NoError(t, s.Create(ctx, alice))

	require.ErrorIs(t, s.Create(ctx, newUser("a@example.com", "other", "BBBB2222")), errs.ErrEmailTaken)
	require.ErrorIs(t, s.Create(ctx, newUser("b@example.com", "alice", "BBBB2222")), errs.ErrUsernameTaken)
	require.ErrorIs(t, s.Create(ctx, newUser("b@example.com", "bob", "AAAA1111")), errs.ErrReferralCodeTaken)
	require.ErrorIs(t, s.Create(ctx, newUser("a@example.com", "other", "BBBB2222")), errs.ErrDuplicateUser)

	dupID := newUser("c@example.com", "carol", "CCCC3333")
	dupID.ID = alice.ID
	require.ErrorIs(t, s.Create(ctx, dupID), errs.ErrDuplicateUser)
}

func TestStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := newUser("a@example.com", "alice", "AAAA1111")
	require.NoError(t, s.Create(ctx, u))
	require.False(t, u.CreatedAt.IsZero())

	got, err := s.GetByIdentifier(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	got, err = s.GetByIdentifier(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	got, err = s.GetByReferralCode(ctx, "AAAA1111")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	ok, err := s.ReferralCodeExists(ctx, "AAAA1111")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.ReferralCodeExists(ctx, "ZZZZ9999")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.GetByEmail(ctx, "missing@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "new"))
	got, err = s.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.PasswordHash)
	require.ErrorIs(t, s.UpdatePasswordHash(ctx, uuid.Must(uuid.NewV4()), "x"), errs.ErrNotFound)
}

func TestReferralStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	referrer := newUser("r@example.com", "ref", "AAAA1111")
	first := newUser("f@example.com", "first", "BBBB2222")
	second := newUser("s@example.com", "second", "CCCC3333")
	for _, u := range []*model.User{referrer, first, second} {
		require.NoError(t, s.Create(ctx, u))
	}
	refs := s.Referrals()

	for _, u := range []*model.User{first, second} {
		require.NoError(t, refs.InsertPending(ctx, &model.Referral{
			ID: uuid.Must(uuid.NewV4()), ReferrerID: referrer.ID, ReferredUserID: u.ID,
		}))
	}
	err := refs.InsertPending(ctx, &model.Referral{ID: uuid.Must(uuid.NewV4()), ReferrerID: referrer.ID, ReferredUserID: first.ID})
	require.ErrorIs(t, err, errs.ErrDuplicateReferral)

	changed, err := refs.MarkSuccessful(ctx, referrer.ID, first.ID)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = refs.MarkSuccessful(ctx, referrer.ID, first.ID)
	require.NoError(t, err)
	require.False(t, changed)

	n, err := refs.CountSuccessful(ctx, referrer.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	list, err := refs.ListByReferrer(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "second", list[0].ReferredUsername)
	require.Equal(t, model.ReferralPending, list[0].Status)
	require.Equal(t, model.ReferralSuccessful, list[1].Status)

	empty, err := refs.ListByReferrer(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	_, err = refs.GetByPair(ctx, first.ID, second.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRewardStore_InsertOncePerReferral(t *testing.T) {
	ctx := context.Background()
	s := New()
	rewards := s.Rewards()
	user := uuid.Must(uuid.NewV4())
	refID := uuid.NullUUID{UUID: uuid.Must(uuid.NewV4()), Valid: true}

	first := &model.Reward{ID: uuid.Must(uuid.NewV4()), UserID: user, Amount: 100, Description: "one", ReferralID: refID}
	created, err := rewards.Insert(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	again := &model.Reward{ID: uuid.Must(uuid.NewV4()), UserID: user, Amount: 100, Description: "one", ReferralID: refID}
	created, err = rewards.Insert(ctx, again)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	manual := &model.Reward{ID: uuid.Must(uuid.NewV4()), UserID: user, Amount: 5, Description: "bonus"}
	created, err = rewards.Insert(ctx, manual)
	require.NoError(t, err)
	require.True(t, created)

	list, err := rewards.ListByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "bonus", list[0].Description)
}

func TestReferralStore_ListUnrewarded(t *testing.T) {
	ctx := context.Background()
	s := New()
	refs, rewards := s.Referrals(), s.Rewards()
	referrer := uuid.Must(uuid.NewV4())

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ref := &model.Referral{ID: uuid.Must(uuid.NewV4()), ReferrerID: referrer, ReferredUserID: uuid.Must(uuid.NewV4())}
		require.NoError(t, refs.InsertPending(ctx, ref))
		ids = append(ids, ref.ID)
		if i > 0 {
			_, err := refs.MarkSuccessful(ctx, referrer, ref.ReferredUserID)
			require.NoError(t, err)
		}
	}

	list, err := refs.ListUnrewarded(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ids[1], list[0].ID)
	require.Equal(t, ids[2], list[1].ID)

	list, err = refs.ListUnrewarded(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = rewards.Insert(ctx, &model.Reward{
		ID: uuid.Must(uuid.NewV4()), UserID: referrer, Amount: 100, Description: "settled",
		ReferralID: uuid.NullUUID{UUID: ids[1], Valid: true},
	})
	require.NoError(t, err)
	list, err = refs.ListUnrewarded(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, ids[2], list[0].ID)
}
