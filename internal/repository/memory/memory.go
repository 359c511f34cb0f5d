// Package memory contains mutex-guarded in-process implementations of the
// repository interfaces. They enforce the same uniqueness rules as the
// Postgres schema and back the server when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
)

var (
	_ repository.UserRepository     = (*Store)(nil)
	_ repository.ReferralRepository = (*ReferralStore)(nil)
	_ repository.RewardRepository   = (*RewardStore)(nil)
)

// Store holds users and exposes the ledger stores sharing its lock.
type Store struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*model.User
	referrals map[uuid.UUID]*model.Referral // keyed by referred user
	order     []uuid.UUID                   // referred users in insertion order
	rewards   []model.Reward
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     map[uuid.UUID]*model.User{},
		referrals: map[uuid.UUID]*model.Referral{},
		now:       time.Now,
	}
}

// Referrals returns the referral repository view of the store.
func (s *Store) Referrals() *ReferralStore { return &ReferralStore{s: s} }

// Rewards returns the reward repository view of the store.
func (s *Store) Rewards() *RewardStore { return &RewardStore{s: s} }

// Create inserts a user, enforcing email, username and referral code uniqueness.
func (s *Store) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		switch {
		case existing.ID == u.ID:
			return errs.ErrDuplicateUser
		case existing.Email == u.Email:
			return errs.ErrEmailTaken
		case existing.Username == u.Username:
			return errs.ErrUsernameTaken
		case existing.ReferralCode == u.ReferralCode:
			return errs.ErrReferralCodeTaken
		}
	}
	u.CreatedAt = s.now()
	cpy := *u
	s.users[u.ID] = &cpy
	return nil
}

// GetByID loads a user by ID.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

// GetByEmail loads a user by email.
func (s *Store) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Email == email })
}

// GetByIdentifier loads a user by email or username.
func (s *Store) GetByIdentifier(_ context.Context, identifier string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Email == identifier || u.Username == identifier })
}

// GetByReferralCode loads the owner of a referral code.
func (s *Store) GetByReferralCode(_ context.Context, code string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.ReferralCode == code })
}

// ReferralCodeExists reports whether the code is assigned.
func (s *Store) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.GetByReferralCode(ctx, code)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// UpdatePasswordHash replaces a user's credential.
func (s *Store) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) find(match func(*model.User) bool) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

// ReferralStore implements repository.ReferralRepository over a Store.
type ReferralStore struct{ s *Store }

// InsertPending creates a pending referral; one per referred user.
func (r *ReferralStore) InsertPending(_ context.Context, ref *model.Referral) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.referrals[ref.ReferredUserID]; ok {
		return errs.ErrDuplicateReferral
	}
	ref.Status = model.ReferralPending
	ref.DateReferred = r.s.now()
	cpy := *ref
	r.s.referrals[ref.ReferredUserID] = &cpy
	r.s.order = append(r.s.order, ref.ReferredUserID)
	return nil
}

// GetByPair loads the referral for a referrer and referred user.
func (r *ReferralStore) GetByPair(_ context.Context, referrerID, referredUserID uuid.UUID) (*model.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ref, ok := r.s.referrals[referredUserID]
	if !ok || ref.ReferrerID != referrerID {
		return nil, errs.ErrNotFound
	}
	c := *ref
	return &c, nil
}

// MarkSuccessful moves a pending referral to successful.
func (r *ReferralStore) MarkSuccessful(_ context.Context, referrerID, referredUserID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.referrals[referredUserID]
	if !ok || ref.ReferrerID != referrerID || ref.Status != model.ReferralPending {
		return false, nil
	}
	ref.Status = model.ReferralSuccessful
	return true, nil
}

// ListByReferrer returns referrals newest first with referred user details.
func (r *ReferralStore) ListByReferrer(_ context.Context, referrerID uuid.UUID) ([]model.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Referral{}
	for i := len(r.s.order) - 1; i >= 0; i-- {
		ref := r.s.referrals[r.s.order[i]]
		if ref.ReferrerID != referrerID {
			continue
		}
		c := *ref
		if u, ok := r.s.users[ref.ReferredUserID]; ok {
			c.ReferredUsername = u.Username
			c.ReferredEmail = u.Email
		}
		out = append(out, c)
	}
	return out, nil
}

// CountSuccessful counts successful referrals.
func (r *ReferralStore) CountSuccessful(_ context.Context, referrerID uuid.UUID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, ref := range r.s.referrals {
		if ref.ReferrerID == referrerID && ref.Status == model.ReferralSuccessful {
			n++
		}
	}
	return n, nil
}

// ListUnrewarded returns successful referrals without a reward, oldest first.
func (r *ReferralStore) ListUnrewarded(_ context.Context, limit int) ([]model.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	settled := make(map[uuid.UUID]struct{}, len(r.s.rewards))
	for _, rw := range r.s.rewards {
		if rw.ReferralID.Valid {
			settled[rw.ReferralID.UUID] = struct{}{}
		}
	}
	out := []model.Referral{}
	for _, referred := range r.s.order {
		if len(out) >= limit {
			break
		}
		ref := r.s.referrals[referred]
		if ref.Status != model.ReferralSuccessful {
			continue
		}
		if _, ok := settled[ref.ID]; ok {
			continue
		}
		out = append(out, *ref)
	}
	return out, nil
}

// RewardStore implements repository.RewardRepository over a Store.
type RewardStore struct{ s *Store }

// Insert appends a reward, returning the existing one for an already settled referral.
func (r *RewardStore) Insert(_ context.Context, rw *model.Reward) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rw.ReferralID.Valid {
		for _, existing := range r.s.rewards {
			if existing.ReferralID.Valid && existing.ReferralID.UUID == rw.ReferralID.UUID {
				*rw = existing
				return false, nil
			}
		}
	}
	rw.CreatedAt = r.s.now()
	r.s.rewards = append(r.s.rewards, *rw)
	return true, nil
}

// ListByUser returns a user's rewards newest first.
func (r *RewardStore) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Reward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Reward{}
	// appended in creation order; walk backwards for newest first
	for i := len(r.s.rewards) - 1; i >= 0; i-- {
		if r.s.rewards[i].UserID == userID {
			out = append(out, r.s.rewards[i])
		}
	}
	return out, nil
}
