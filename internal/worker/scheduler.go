package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/observability"
	"github.com/spec-kit/sla-service/internal/persistence"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/service"
	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

// Skip reasons recorded when a tick does not run a cycle.
const (
	skipBusy      = "busy"
	skipLeaseHeld = "lease_held"
)

const defaultInterval = time.Minute

// CycleRunner runs one evaluation cycle.
type CycleRunner interface {
	RunEvaluationCycle(ctx context.Context) (service.CycleResult, error)
}

// Locker is a cross-replica lease, e.g. persistence.LeaseLock.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// Scheduler triggers evaluation cycles on a fixed interval. At most one cycle
// runs at a time; ticks that find a cycle in flight are dropped.
type Scheduler struct {
	runner  CycleRunner
	lease   Locker
	logger  *zap.Logger
	metrics *observability.Metrics

	running  sync.Mutex
	inflight sync.WaitGroup
	interval atomic.Int64
	reset    chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler constructs a scheduler. lease may be nil.
func NewScheduler(runner CycleRunner, lease Locker, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &Scheduler{
		runner:  runner,
		lease:   lease,
		logger:  logger,
		metrics: metrics,
		reset:   make(chan struct{}, 1),
	}
	s.interval.Store(int64(interval))
	return s
}

// Interval returns the current tick interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval changes the tick interval; the running loop picks it up on its
// next select.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 || d == s.Interval() {
		return
	}
	s.interval.Store(int64(d))
	select {
	case s.reset <- struct{}{}:
	default:
	}
	s.logger.Info("evaluation interval changed", zap.Duration("interval", d))
}

// PolicySubscriber follows the evaluation interval of accepted policies.
func (s *Scheduler) PolicySubscriber() policy.Subscriber {
	return func(_ context.Context, snap *policy.Snapshot) error {
		s.SetInterval(snap.EvaluationInterval())
		return nil
	}
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("sla scheduler started", zap.Duration("interval", s.Interval()))
}

// Stop ends the tick loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.inflight.Wait()
	s.logger.Info("sla scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			ticker.Reset(s.Interval())
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a cycle in the background unless one is already running.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.metrics.TickSkipped(skipBusy)
		s.logger.Debug("evaluation cycle still running, skipping tick")
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Unlock()
		if _, err := s.runLeased(ctx); err != nil && !errors.Is(err, persistence.ErrLockHeld) {
			s.logger.Error("scheduled evaluation cycle failed", zap.Error(err))
		}
	}()
}

// RunNow runs a cycle synchronously under the same guard as scheduled ticks.
// It returns a CONFLICT error when a cycle is already running.
func (s *Scheduler) RunNow(ctx context.Context) (service.CycleResult, error) {
	if !s.running.TryLock() {
		s.metrics.TickSkipped(skipBusy)
		return service.CycleResult{}, apperrors.NewConflict("evaluation cycle already running", nil)
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer s.running.Unlock()

	result, err := s.runLeased(ctx)
	if errors.Is(err, persistence.ErrLockHeld) {
		return result, apperrors.NewConflict("evaluation cycle running on another instance", nil)
	}
	return result, err
}

// runLeased takes the cross-replica lease when configured. A lease backend
// error degrades to local-only locking rather than stopping evaluation.
func (s *Scheduler) runLeased(ctx context.Context) (service.CycleResult, error) {
	ctx = context.WithoutCancel(ctx)
	if s.lease == nil {
		return s.runner.RunEvaluationCycle(ctx)
	}
	release, err := s.lease.Acquire(ctx)
	switch {
	case errors.Is(err, persistence.ErrLockHeld):
		s.metrics.TickSkipped(skipLeaseHeld)
		s.logger.Debug("evaluation lease held by another instance")
		return service.CycleResult{}, err
	case err != nil:
		s.logger.Warn("evaluation lease unavailable, running with local lock only", zap.Error(err))
		return s.runner.RunEvaluationCycle(ctx)
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.Warn("release evaluation lease", zap.Error(err))
		}
	}()
	return s.runner.RunEvaluationCycle(ctx)
}
