package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/refkeeper/internal/errs"
	"go.uber.org/zap"
)

// Dispatcher sends messages asynchronously with bounded concurrency.
type Dispatcher struct {
	n       Notifier
	log     *zap.Logger
	timeout time.Duration
	slots   chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher running at most concurrency sends at once,
// each bounded by timeout.
func NewDispatcher(n Notifier, log *zap.Logger, concurrency int, timeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{n: n, log: log, timeout: timeout, slots: make(chan struct{}, concurrency)}
}

// Dispatch queues m for delivery and returns immediately. Failures are logged.
func (d *Dispatcher) Dispatch(m Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped after shutdown", zap.String("subject", m.Subject))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.slots <- struct{}{}
		defer func() { <-d.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.Send(ctx, m); err != nil {
			err = fmt.Errorf("%w: %w", errs.ErrNotification, err)
			d.log.Warn("notification failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}()
}

// Close stops accepting messages and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
