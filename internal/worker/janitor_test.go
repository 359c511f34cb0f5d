package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/refkeeper/internal/cache"
	"github.com/and161185/refkeeper/internal/codegen"
	"github.com/and161185/refkeeper/internal/limiter"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/notify"
	"github.com/and161185/refkeeper/internal/repository/memory"
	"github.com/and161185/refkeeper/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Sweep() int { c.n.Add(1); return 1 }

type fakePurger struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (f *fakePurger) Purge(_ context.Context, older time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, older)
	return 2, f.err
}

type fakeSettler struct {
	mu     sync.Mutex
	limits []int
	err    error
}

func (f *fakeSettler) SettleUnrewarded(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

type switchPinger struct{ err atomic.Value }

func (s *switchPinger) set(err error) { s.err.Store(errBox{err}) }

func (s *switchPinger) Ping(context.Context) error {
	if v, ok := s.err.Load().(errBox); ok {
		return v.err
	}
	return nil
}

type errBox struct{ err error }

type healthRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (h *healthRecorder) SetServing(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ok)
}

func (h *healthRecorder) last() (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return false, 0
	}
	return h.states[len(h.states)-1], len(h.states)
}

func newJanitor(t *testing.T, deps Deps, iv Intervals) *Janitor {
	t.Helper()
	j, err := New(context.Background(), deps, iv, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.sched.Shutdown() })
	return j
}

func TestNew_SkipsJobsWithoutDeps(t *testing.T) {
	j := newJanitor(t, Deps{}, DefaultIntervals)
	require.Zero(t, j.Jobs())

	j = newJanitor(t, Deps{
		Cache:   &countingSweeper{},
		Limiter: &fakePurger{},
		Probes:  []Pinger{&switchPinger{}},
		Health:  &healthRecorder{},
		Settler: &fakeSettler{},
	}, DefaultIntervals)
	require.Equal(t, 4, j.Jobs())
}

func TestNew_RejectsBadInterval(t *testing.T) {
	iv := DefaultIntervals
	iv.Sweep = 0
	_, err := New(context.Background(), Deps{Cache: &countingSweeper{}}, iv, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestProbe_FlipsHealth(t *testing.T) {
	p := &switchPinger{}
	h := &healthRecorder{}
	j := newJanitor(t, Deps{Probes: []Pinger{p}, Health: h}, DefaultIntervals)

	j.probe(context.Background())
	ok, _ := h.last()
	require.True(t, ok)

	p.set(errors.New("connection refused"))
	j.probe(context.Background())
	ok, _ = h.last()
	require.False(t, ok)

	p.set(nil)
	j.probe(context.Background())
	ok, n := h.last()
	require.True(t, ok)
	require.Equal(t, 3, n)
}

func TestPurge_UsesConfiguredAge(t *testing.T) {
	f := &fakePurger{}
	j := newJanitor(t, Deps{Limiter: f}, DefaultIntervals)

	j.purge(context.Background())
	f.err = errors.New("db down")
	j.purge(context.Background())
	require.Equal(t, []time.Duration{24 * time.Hour, 24 * time.Hour}, f.calls)
}

func TestSettle_PassesBatchSize(t *testing.T) {
	f := &fakeSettler{}
	iv := DefaultIntervals
	iv.SettleBatch = 7
	j := newJanitor(t, Deps{Settler: f}, iv)

	j.settle(context.Background())
	f.err = errors.New("db down")
	j.settle(context.Background())
	require.Equal(t, []int{7, 7}, f.limits)
}

func TestSettle_RepairsReferralWithoutReward(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	log := zaptest.NewLogger(t)
	refs := service.NewReferralLedger(store, store.Referrals())
	rewards := service.NewRewardLedger(store.Rewards())
	c := cache.New(cache.NewMemoryStore(), 0, log)
	p := service.NewPipeline(store, codegen.New(store), refs, rewards, c, discard{}, log)

	referrer, referred := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	_, err := refs.RecordPending(ctx, referrer, referred)
	require.NoError(t, err)
	require.NoError(t, refs.MarkSuccessful(ctx, referrer, referred))

	j := newJanitor(t, Deps{Settler: p}, DefaultIntervals)
	j.settle(ctx)

	sum, err := rewards.ListForUser(ctx, referrer)
	require.NoError(t, err)
	require.EqualValues(t, model.ReferralRewardPoints, sum.Total)
	left, err := refs.ListUnrewarded(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, left)
}

type discard struct{}

func (discard) Dispatch(notify.Message) {}

func TestPurge_MemoryLimiter(t *testing.T) {
	lim := limiter.NewMemory(limiter.DefaultPolicy)
	_, _, err := lim.Failure(context.Background(), "alice", limiter.HashIP("10.0.0.1"))
	require.NoError(t, err)

	iv := DefaultIntervals
	iv.PurgeOlder = -time.Second
	j := newJanitor(t, Deps{Limiter: lim}, iv)
	j.purge(context.Background())

	n, err := lim.Purge(context.Background(), -time.Second)
	require.NoError(t, err)
	require.Zero(t, n, "row already purged by the janitor")
}

func TestRun_SchedulesJobs(t *testing.T) {
	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "u", "/rewards", []byte("x"), time.Millisecond))

	sw := &countingSweeper{}
	h := &healthRecorder{}
	iv := Intervals{
		Sweep:        20 * time.Millisecond,
		Purge:        time.Hour,
		PurgeOlder:   time.Hour,
		Probe:        20 * time.Millisecond,
		ProbeTimeout: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	j, err := New(ctx, Deps{Cache: sw, Probes: []Pinger{&switchPinger{}}, Health: h}, iv, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, n := h.last()
		return sw.n.Load() >= 2 && n >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// the real store works as a sweeper too
	time.Sleep(2 * time.Millisecond)
	var s Sweeper = store
	require.Equal(t, 1, s.Sweep())
}
