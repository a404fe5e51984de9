package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chimeworks/chime/dispatch"
	"github.com/chimeworks/chime/errors"
)

// Scheduler evaluates job definitions on a fixed tick and submits due
// jobs to the dispatcher. It holds no schedule state of its own: each
// tick derives next-due times from the definition and the execution
// ledger, so restarts need no recovery step.
type Scheduler struct {
	store      *Store
	dispatcher *dispatch.Dispatcher
	interval   time.Duration
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// SchedulerConfig contains configuration for the scheduler
type SchedulerConfig struct {
	Interval time.Duration    // How often to evaluate due jobs (default: 1 second)
	Now      func() time.Time // Clock override for tests (default: time.Now)
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: 1 * time.Second,
	}
}

// NewScheduler creates a scheduler with a parent context
func NewScheduler(ctx context.Context, store *Store, dispatcher *dispatch.Dispatcher, cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	schedCtx, cancel := context.WithCancel(ctx)
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		interval:   cfg.Interval,
		now:        cfg.Now,
		ctx:        schedCtx,
		cancel:     cancel,
		logger:     log,
	}
}

// Start begins the tick loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Scheduler started", "interval", s.interval)
}

// Stop gracefully stops the tick loop
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Infow("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastTickAt = s.now()
			s.ticksSinceStart++
			tick := s.ticksSinceStart
			s.mu.Unlock()

			if err := s.Tick(s.ctx, s.now()); err != nil {
				s.logger.Warnw("Scheduler tick error", "error", err, "tick", tick)
			}
		}
	}
}

// Tick evaluates every enabled job definition against now and enqueues
// the ones that are due. A definition whose most recent execution is
// still queued or running is skipped, so slow jobs never pile up behind
// themselves. A definition with multiple missed periods is enqueued
// once; the next period is measured from this dispatch.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	defs, err := s.store.ListEnabled()
	if err != nil {
		return errors.Wrap(err, "list enabled jobs")
	}

	for _, def := range defs {
		if err := s.evaluate(ctx, def, now); err != nil {
			// One bad definition must not starve the rest of the tick
			s.logger.Warnw("Failed to evaluate job",
				"job", def.Key(),
				"error", err,
			)
		}
	}

	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, def *JobDefinition, now time.Time) error {
	// Reference time for next-due: the last dispatch, or registration
	// time for jobs that have never run. First fire is one full period
	// after registration, never immediately.
	reference := def.CreatedAt

	latest, err := s.dispatcher.LatestForJob(def.OwnerService, def.Name)
	switch {
	case err == nil:
		if !latest.IsTerminal() {
			return nil // still in flight, skip this period
		}
		reference = latest.EnqueuedAt
	case errors.IsNotFound(err):
		// never run
	default:
		return errors.Wrapf(err, "latest execution for %s", def.Key())
	}

	due, err := NextDue(def.Kind, def.Spec, reference)
	if err != nil {
		return err
	}
	if due.After(now) {
		return nil
	}

	exec, err := s.dispatcher.Enqueue(ctx, dispatch.Request{
		OwnerService: def.OwnerService,
		JobName:      def.Name,
		Target:       def.Target,
		Args:         def.Args,
		Kwargs:       def.Kwargs,
	})
	if err != nil {
		return errors.Wrapf(err, "enqueue %s", def.Key())
	}

	s.logger.Infow("Dispatched scheduled job",
		"job", def.Key(),
		"execution_id", exec.ID,
		"due_at", due,
	)
	return nil
}
