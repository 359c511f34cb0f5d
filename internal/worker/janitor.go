// Package worker runs background maintenance on a gocron scheduler.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Sweeper drops expired in-process cache entries.
type Sweeper interface {
	Sweep() int
}

// Purger deletes stale login limiter rows.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Settler grants rewards missing from successful referrals.
type Settler interface {
	SettleUnrewarded(ctx context.Context, limit int) (int, error)
}

// HealthSetter receives the outcome of storage probes.
type HealthSetter interface {
	SetServing(ok bool)
}

// Intervals configures job cadence.
type Intervals struct {
	Sweep        time.Duration
	Purge        time.Duration
	PurgeOlder   time.Duration // limiter rows idle longer than this are removed
	Probe        time.Duration
	ProbeTimeout time.Duration
	Settle       time.Duration
	SettleBatch  int
}

// DefaultIntervals sweeps every minute, purges hourly, probes every 30
// seconds and settles unrewarded referrals every 5 minutes.
var DefaultIntervals = Intervals{
	Sweep:        time.Minute,
	Purge:        time.Hour,
	PurgeOlder:   24 * time.Hour,
	Probe:        30 * time.Second,
	ProbeTimeout: 5 * time.Second,
	Settle:       5 * time.Minute,
	SettleBatch:  100,
}

// Deps are the janitor's collaborators. Nil members disable their job.
type Deps struct {
	Cache   Sweeper
	Limiter Purger
	Probes  []Pinger
	Health  HealthSetter
	Settler Settler
}

// Janitor owns the scheduler and its jobs.
type Janitor struct {
	sched gocron.Scheduler
	deps  Deps
	iv    Intervals
	log   *zap.Logger

	mu      sync.Mutex
	healthy bool
}

// New registers the jobs without starting them.
func New(ctx context.Context, deps Deps, iv Intervals, log *zap.Logger) (*Janitor, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	j := &Janitor{sched: sched, deps: deps, iv: iv, log: log, healthy: true}

	add := func(name string, every time.Duration, task func()) error {
		_, err := sched.NewJob(
			gocron.DurationJob(every),
			gocron.NewTask(task),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		return err
	}

	var errList []error
	if deps.Cache != nil {
		errList = append(errList, add("cache-sweep", iv.Sweep, j.sweep))
	}
	if deps.Limiter != nil {
		errList = append(errList, add("limiter-purge", iv.Purge, func() { j.purge(ctx) }))
	}
	if len(deps.Probes) > 0 && deps.Health != nil {
		errList = append(errList, add("storage-probe", iv.Probe, func() { j.probe(ctx) }))
	}
	if deps.Settler != nil {
		errList = append(errList, add("reward-settle", iv.Settle, func() { j.settle(ctx) }))
	}
	if err := errors.Join(errList...); err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	return j, nil
}

// Jobs returns the number of scheduled jobs.
func (j *Janitor) Jobs() int { return len(j.sched.Jobs()) }

// Run starts the scheduler and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	j.sched.Start()
	j.log.Info("janitor started", zap.Int("jobs", j.Jobs()))
	<-ctx.Done()
	return j.sched.Shutdown()
}

func (j *Janitor) sweep() {
	if n := j.deps.Cache.Sweep(); n > 0 {
		j.log.Debug("cache sweep", zap.Int("expired", n))
	}
}

func (j *Janitor) purge(ctx context.Context) {
	n, err := j.deps.Limiter.Purge(ctx, j.iv.PurgeOlder)
	if err != nil {
		j.log.Warn("limiter purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("limiter purge", zap.Int64("rows", n))
	}
}

func (j *Janitor) settle(ctx context.Context) {
	n, err := j.deps.Settler.SettleUnrewarded(ctx, j.iv.SettleBatch)
	if err != nil {
		j.log.Warn("reward settle failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("reward settle", zap.Int("referrals", n))
	}
}

func (j *Janitor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.iv.ProbeTimeout)
	defer cancel()

	var err error
	for _, p := range j.deps.Probes {
		if err = p.Ping(ctx); err != nil {
			break
		}
	}
	ok := err == nil

	j.mu.Lock()
	changed := ok != j.healthy
	j.healthy = ok
	j.mu.Unlock()

	j.deps.Health.SetServing(ok)
	if !changed {
		return
	}
	if ok {
		j.log.Info("storage reachable again")
	} else {
		j.log.Error("storage probe failed", zap.Error(err))
	}
}
