package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type brokenStore struct {
	ttl time.Duration
}

var errDown = errors.New("store down")

func (b *brokenStore) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, errDown
}

func (b *brokenStore) Set(_ context.Context, _, _ string, _ []byte, ttl time.Duration) error {
	b.ttl = ttl
	return errDown
}

func (b *brokenStore) InvalidateAll(context.Context, string) error { return errDown }

func TestCache_FetchCachesResult(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	var calls int32
	load := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"totalRewards":0}`), nil
	}

	v, err := c.Fetch(ctx, "u1", "/api/rewards", load)
	require.NoError(t, err)
	require.JSONEq(t, `{"totalRewards":0}`, string(v))
	_, err = c.Fetch(ctx, "u1", "/api/rewards", load)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// different identity, different path: separate entries
	_, err = c.Fetch(ctx, "u2", "/api/rewards", load)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "u1", "/api/referrals", load)
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCache_FetchDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	boom := errors.New("boom")
	_, err := c.Fetch(ctx, "u1", "/p", func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	_, ok := c.Get(ctx, "u1", "/p")
	require.False(t, ok)
}

func TestCache_FetchCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	release := make(chan struct{})
	var calls int32
	load := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Fetch(ctx, "u1", "/p", load)
			if err != nil || string(v) != "v" {
				t.Errorf("fetch: %q %v", v, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_InvalidateDuringLoadSkipsWriteBack(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Fetch(ctx, "u1", "/api/rewards", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("stale"), nil
		})
	}()
	<-started
	require.NoError(t, c.InvalidateAll(ctx, "u1"))
	close(release)
	<-done

	_, ok := c.Get(ctx, "u1", "/api/rewards")
	require.False(t, ok)

	v, err := c.Fetch(ctx, "u1", "/api/rewards", func(context.Context) ([]byte, error) { return []byte("fresh"), nil })
	require.NoError(t, err)
	require.Equal(t, "fresh", string(v))
	v, ok = c.Get(ctx, "u1", "/api/rewards")
	require.True(t, ok)
	require.Equal(t, "fresh", string(v))
}

func TestCache_InvalidateAllDropsEveryPath(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	c.Put(ctx, "u1", "/a", []byte("1"), 0)
	c.Put(ctx, "u1", "/b", []byte("2"), 0)
	c.Put(ctx, "u2", "/a", []byte("3"), 0)

	require.NoError(t, c.InvalidateAll(ctx, "u1"))
	_, ok := c.Get(ctx, "u1", "/a")
	require.False(t, ok)
	_, ok = c.Get(ctx, "u1", "/b")
	require.False(t, ok)
	v, ok := c.Get(ctx, "u2", "/a")
	require.True(t, ok)
	require.Equal(t, "3", string(v))
}

func TestCache_StoreFailuresFallBackToLoader(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{}
	c := New(store, 0, zaptest.NewLogger(t))
	require.Equal(t, DefaultTTL, c.TTL())

	v, err := c.Fetch(ctx, "u1", "/p", func(context.Context) ([]byte, error) { return []byte("x"), nil })
	require.NoError(t, err)
	require.Equal(t, "x", string(v))
	require.Equal(t, DefaultTTL, store.ttl)
	require.ErrorIs(t, c.InvalidateAll(ctx, "u1"), errDown)
}

// gatedStore blocks the first Set until release is closed.
type gatedStore struct {
	*MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Set(ctx context.Context, identity, path string, value []byte, ttl time.Duration) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.MemoryStore.Set(ctx, identity, path, value, ttl)
}

func TestCache_InvalidateWaitsForWriteBack(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	c := New(store, time.Minute, zaptest.NewLogger(t))

	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		_, _ = c.Fetch(ctx, "u1", "/api/stats", func(context.Context) ([]byte, error) {
			return []byte(`{"referralCount":0}`), nil
		})
	}()
	<-store.entered

	invalidated := make(chan error, 1)
	go func() { invalidated <- c.InvalidateAll(ctx, "u1") }()
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	<-fetched
	require.NoError(t, <-invalidated)
	_, ok := c.Get(ctx, "u1", "/api/stats")
	require.False(t, ok, "write-back landed after invalidation")
}

func TestCache_IdentityStateIsReleased(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	load := func(context.Context) ([]byte, error) { return []byte("v"), nil }
	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := c.Fetch(ctx, id, "/p", load)
		require.NoError(t, err)
		require.NoError(t, c.InvalidateAll(ctx, id))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.states)
	require.EqualValues(t, 3, c.seq)
}

func TestCache_SharedLoadOutlivesCanceledCaller(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	started := make(chan struct{})
	gate := make(chan struct{})
	load := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-gate
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("v"), nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(first, "u1", "/p", load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.Fetch(context.Background(), "u1", "/p", load)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(gate)

	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "v", string(res.v))
	v, ok := c.Get(context.Background(), "u1", "/p")
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestCache_LoadTimeout(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	c.loadTimeout = 20 * time.Millisecond
	_, err := c.Fetch(context.Background(), "u1", "/p", func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
