package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/notify"
	"github.com/and161185/refkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// CodeGenerator mints referral codes that are free at the time of the call.
type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// CacheInvalidator drops every cached response of an identity.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context, identity string) error
}

// Notifications accepts messages for asynchronous delivery.
type Notifications interface {
	Dispatch(m notify.Message)
}

// maxCodeClashes bounds how often user creation is retried when a freshly
// generated code loses the race against a concurrent registration.
const maxCodeClashes = 3

// Pipeline runs registration followed by referral attribution.
type Pipeline struct {
	users     repository.UserRepository
	codes     CodeGenerator
	referrals *ReferralLedger
	rewards   *RewardLedger
	cache     CacheInvalidator
	notes     Notifications
	log       *zap.Logger

	retries   uint64
	retryBase time.Duration
}

// NewPipeline constructs the attribution pipeline. Enrichment steps are
// retried 3 times with exponential backoff from 50ms.
func NewPipeline(
	users repository.UserRepository,
	codes CodeGenerator,
	referrals *ReferralLedger,
	rewards *RewardLedger,
	cache CacheInvalidator,
	notes Notifications,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		users:     users,
		codes:     codes,
		referrals: referrals,
		rewards:   rewards,
		cache:     cache,
		notes:     notes,
		log:       log,
		retries:   3,
		retryBase: 50 * time.Millisecond,
	}
}

// WithRetry overrides the retry policy of enrichment steps.
func (p *Pipeline) WithRetry(retries uint64, base time.Duration) *Pipeline {
	p.retries, p.retryBase = retries, base
	return p
}

// Register creates the user and, when reg.ReferralCode resolves, attributes the
// registration to the referrer. Only user creation can fail the call.
func (p *Pipeline) Register(ctx context.Context, reg model.Registration) (model.PublicUser, error) {
	u, err := p.createUser(ctx, reg)
	if err != nil {
		return model.PublicUser{}, err
	}
	log := p.log.With(zap.Stringer("user_id", u.ID))

	// the account exists; finish enrichment even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	code := strings.TrimSpace(reg.ReferralCode)
	if code == "" {
		p.notes.Dispatch(notify.Welcome(u.Email, u.Username))
		return u.Public(), nil
	}

	referrer, err := p.referrals.ResolveReferrer(ctx, code)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		log.Warn("registered with invalid referral code", zap.String("referral_code", code))
		p.notes.Dispatch(notify.Welcome(u.Email, u.Username))
		return u.Public(), nil
	case err != nil:
		log.Error("resolve referrer failed", zap.String("referral_code", code), zap.Error(err))
		p.notes.Dispatch(notify.Welcome(u.Email, u.Username))
		return u.Public(), nil
	}

	p.attribute(ctx, log, referrer, u)
	return u.Public(), nil
}

func (p *Pipeline) createUser(ctx context.Context, reg model.Registration) (*model.User, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:           id,
		Email:        reg.Email,
		Username:     reg.Username,
		PasswordHash: reg.PasswordHash,
	}
	for attempt := 1; ; attempt++ {
		if u.ReferralCode, err = p.codes.Generate(ctx); err != nil {
			return nil, err
		}
		err = p.users.Create(ctx, u)
		if !errors.Is(err, errs.ErrReferralCodeTaken) || attempt == maxCodeClashes {
			return u, err
		}
		p.log.Info("referral code clash, regenerating", zap.Int("attempt", attempt))
	}
}

// attribute records the referral, settles it and credits the referrer.
// Every step is idempotent, so persistence failures are retried; a step that
// still fails stops the saga and is logged.
func (p *Pipeline) attribute(ctx context.Context, log *zap.Logger, referrer, u *model.User) {
	log = log.With(zap.Stringer("referrer_id", referrer.ID))
	defer p.invalidate(ctx, log, referrer.ID, u.ID)

	var referralID uuid.UUID
	err := p.retry(ctx, func(ctx context.Context) error {
		id, err := p.referrals.RecordPending(ctx, referrer.ID, u.ID)
		if errors.Is(err, errs.ErrDuplicateReferral) {
			ref, gerr := p.referrals.Get(ctx, referrer.ID, u.ID)
			if gerr != nil {
				return gerr
			}
			id = ref.ID
			err = nil
		}
		referralID = id
		return err
	})
	if err != nil {
		log.Error("record pending referral failed", zap.Error(err))
		return
	}

	p.notes.Dispatch(notify.ReferralWelcome(u.Email, u.Username, referrer.Username))

	if err := p.retry(ctx, func(ctx context.Context) error {
		return p.referrals.MarkSuccessful(ctx, referrer.ID, u.ID)
	}); err != nil {
		log.Error("mark referral successful failed", zap.Stringer("referral_id", referralID), zap.Error(err))
		return
	}

	reward, err := p.grant(ctx, referrer.ID, u.ID, referralID)
	if err != nil {
		log.Error("grant referral reward failed", zap.Stringer("referral_id", referralID), zap.Error(err))
		return
	}
	log.Info("referral attributed", zap.Stringer("referral_id", referralID), zap.Stringer("reward_id", reward.ID))
}

// grant credits the referrer for referralID. Grants are keyed by the
// referral, so repeating one is harmless.
func (p *Pipeline) grant(ctx context.Context, referrerID, referredUserID, referralID uuid.UUID) (model.Reward, error) {
	var reward model.Reward
	err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		reward, err = p.rewards.Grant(ctx, model.Grant{
			UserID:      referrerID,
			Amount:      model.ReferralRewardPoints,
			Description: ReferralRewardDescription(referredUserID),
			ReferralID:  uuid.NullUUID{UUID: referralID, Valid: true},
		})
		return err
	})
	return reward, err
}

// SettleUnrewarded grants the missing reward of up to limit successful
// referrals whose attribution stopped before the grant. It returns how many
// were settled; a failed grant is logged and the batch continues.
func (p *Pipeline) SettleUnrewarded(ctx context.Context, limit int) (int, error) {
	pending, err := p.referrals.ListUnrewarded(ctx, limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, ref := range pending {
		log := p.log.With(zap.Stringer("referral_id", ref.ID), zap.Stringer("referrer_id", ref.ReferrerID))
		reward, err := p.grant(ctx, ref.ReferrerID, ref.ReferredUserID, ref.ID)
		if err != nil {
			log.Error("settle referral reward failed", zap.Error(err))
			continue
		}
		p.invalidate(ctx, log, ref.ReferrerID)
		log.Info("referral reward settled", zap.Stringer("reward_id", reward.ID))
		settled++
	}
	return settled, nil
}

func (p *Pipeline) retry(ctx context.Context, step func(context.Context) error) error {
	b := retry.WithMaxRetries(p.retries, retry.NewExponential(p.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := step(ctx)
		if errors.Is(err, errs.ErrPersistence) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (p *Pipeline) invalidate(ctx context.Context, log *zap.Logger, ids ...uuid.UUID) {
	for _, id := range ids {
		if err := p.cache.InvalidateAll(ctx, id.String()); err != nil {
			log.Warn("cache invalidation failed", zap.Stringer("identity", id), zap.Error(err))
		}
	}
}
