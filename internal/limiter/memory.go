package limiter

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// Memory is an in-process limiter with the same semantics as PG.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	state  map[string]*attempts
	now    func() time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, state: map[string]*attempts{}, now: time.Now}
}

func memKey(identifier string, ipHash []byte) string {
	return identifier + "\x00" + string(ipHash)
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state[memKey(identifier, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success implements Limiter.
func (m *Memory) Success(_ context.Context, identifier string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[memKey(identifier, ipHash)] = &attempts{updatedAt: m.now()}
	return nil
}

// Failure implements Limiter.
func (m *Memory) Failure(_ context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := memKey(identifier, ipHash)
	a, ok := m.state[k]
	switch {
	case !ok:
		a = &attempts{fails: 1}
		m.state[k] = a
	case now.Sub(a.updatedAt) > m.policy.Window:
		a.fails = 1
	default:
		a.fails++
	}
	a.updatedAt = now
	if a.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	a.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}

// Purge implements Limiter.
func (m *Memory) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for k, a := range m.state {
		if now.Sub(a.updatedAt) > olderThan && !a.blockedUntil.After(now) {
			delete(m.state, k)
			n++
		}
	}
	return n, nil
}
