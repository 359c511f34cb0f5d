package service

import (
	"context"
	"sync"
	"testing"

	"github.com/and161185/refkeeper/internal/cache"
	"github.com/and161185/refkeeper/internal/codegen"
	pkgcrypto "github.com/and161185/refkeeper/internal/crypto"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/notify"
	"github.com/and161185/refkeeper/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testHasher = pkgcrypto.NewHasher(pkgcrypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32})

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Dispatch(m notify.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
}

func (o *outbox) all() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.msgs...)
}

type invalidations struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (i *invalidations) InvalidateAll(_ context.Context, identity string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, identity)
	return i.err
}

type fixture struct {
	store     *memory.Store
	cache     *cache.Cache
	out       *outbox
	referrals *ReferralLedger
	rewards   *RewardLedger
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	log := zaptest.NewLogger(t)
	c := cache.New(cache.NewMemoryStore(), 0, log)
	out := &outbox{}
	refs := NewReferralLedger(store, store.Referrals())
	rws := NewRewardLedger(store.Rewards())
	p := NewPipeline(store, codegen.New(store), refs, rws, c, out, log)
	return &fixture{store: store, cache: c, out: out, referrals: refs, rewards: rws, pipeline: p}
}

func (f *fixture) register(t *testing.T, email, username, code string) model.PublicUser {
	t.Helper()
	hash, err := testHasher.Hash("Passw0rd!")
	require.NoError(t, err)
	u, err := f.pipeline.Register(context.Background(), model.Registration{
		Email: email, Username: username, PasswordHash: hash, ReferralCode: code,
	})
	require.NoError(t, err)
	return u
}
