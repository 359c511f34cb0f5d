// Package cache implements the per-identity response cache that sits in front
// of read endpoints. Entries are keyed by (identity, resource path) and every
// entry of an identity can be dropped at once.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when a caller passes a non-positive TTL.
const DefaultTTL = 300 * time.Second

// DefaultLoadTimeout bounds a shared load started by Fetch.
const DefaultLoadTimeout = 10 * time.Second

// Store is a cache backend. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, identity, path string) ([]byte, bool, error)
	Set(ctx context.Context, identity, path string, value []byte, ttl time.Duration) error
	InvalidateAll(ctx context.Context, identity string) error
}

// Cache wraps a Store with TTL defaults, miss coalescing and protection
// against writing back values loaded before an invalidation.
type Cache struct {
	store       Store
	ttl         time.Duration
	loadTimeout time.Duration
	log         *zap.Logger

	group singleflight.Group

	mu     sync.Mutex
	seq    uint64
	states map[string]*identityState
}

// identityState orders write-backs against invalidations of one identity.
// It lives only while a load or an invalidation holds a reference. epoch is
// written under both mutexes.
type identityState struct {
	mu    sync.Mutex
	epoch uint64
	refs  int
}

// New constructs a Cache. ttl <= 0 selects DefaultTTL.
func New(store Store, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		store:       store,
		ttl:         ttl,
		loadTimeout: DefaultLoadTimeout,
		log:         log,
		states:      map[string]*identityState{},
	}
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached value for identity and path. Store failures read as a miss.
func (c *Cache) Get(ctx context.Context, identity, path string) ([]byte, bool) {
	v, ok, err := c.store.Get(ctx, identity, path)
	if err != nil {
		c.log.Warn("cache get failed", zap.String("identity", identity), zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return v, ok
}

// Put stores value for identity and path. ttl <= 0 selects the cache default.
func (c *Cache) Put(ctx context.Context, identity, path string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.store.Set(ctx, identity, path, value, ttl); err != nil {
		c.log.Warn("cache put failed", zap.String("identity", identity), zap.String("path", path), zap.Error(err))
	}
}

func (c *Cache) acquire(identity string) *identityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[identity]
	if !ok {
		st = &identityState{epoch: c.seq}
		c.states[identity] = st
	}
	st.refs++
	return st
}

func (c *Cache) release(identity string, st *identityState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.refs--
	if st.refs == 0 {
		delete(c.states, identity)
	}
}

// InvalidateAll drops every entry of identity. Loads already in flight for
// identity will not write their result back.
func (c *Cache) InvalidateAll(ctx context.Context, identity string) error {
	st := c.acquire(identity)
	defer c.release(identity, st)

	st.mu.Lock()
	defer st.mu.Unlock()
	c.mu.Lock()
	c.seq++
	st.epoch = c.seq
	c.mu.Unlock()
	return c.store.InvalidateAll(ctx, identity)
}

// epoch returns the current invalidation epoch of identity.
func (c *Cache) epoch(identity string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[identity]; ok {
		return st.epoch
	}
	return c.seq
}

// Fetch returns the cached value or calls load, caching its result.
// Concurrent misses for the same key share a single load. The shared load is
// detached from the caller's cancellation and bounded by the load timeout; a
// caller whose ctx ends first returns ctx.Err() without aborting it.
func (c *Cache) Fetch(ctx context.Context, identity, path string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(ctx, identity, path); ok {
		return v, nil
	}
	start := c.epoch(identity)
	key := identity + "\x00" + path + "\x00" + strconv.FormatUint(start, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		st := c.acquire(identity)
		defer c.release(identity, st)

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		b, err := load(lctx)
		if err != nil {
			return nil, err
		}
		// A state created after start begins at the newest epoch, so any
		// invalidation since start fails this check.
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.epoch == start {
			c.Put(lctx, identity, path, b, 0)
		}
		return b, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
