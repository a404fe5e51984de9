package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically fails running executions whose worker stopped
// reporting, and prunes old terminal rows so the ledger stays bounded
type Reaper struct {
	store  *Store
	cfg    ReaperConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// ReaperConfig contains configuration for the reaper
type ReaperConfig struct {
	Interval   time.Duration // How often to sweep (default: 1 minute)
	StaleAfter time.Duration // Running executions untouched this long are failed; 0 disables reaping
	Retain     int           // Terminal executions kept per job; 0 keeps everything
}

// DefaultReaperConfig returns sensible defaults
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:   1 * time.Minute,
		StaleAfter: 10 * time.Minute,
	}
}

// NewReaper creates a reaper with a parent context
func NewReaper(ctx context.Context, store *Store, cfg ReaperConfig, log *zap.SugaredLogger) *Reaper {
	reaperCtx, cancel := context.WithCancel(ctx)
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Minute
	}

	return &Reaper{
		store:  store,
		cfg:    cfg,
		ctx:    reaperCtx,
		cancel: cancel,
		logger: log,
	}
}

// Start begins the sweep loop
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Infow("Reaper started",
		"interval", r.cfg.Interval,
		"stale_after", r.cfg.StaleAfter,
		"retain", r.cfg.Retain,
	)
}

// Stop gracefully stops the sweep loop
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Infow("Reaper stopped")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Sweep performs one reap-and-prune pass
func (r *Reaper) Sweep(now time.Time) {
	if r.cfg.StaleAfter > 0 {
		reaped, err := r.store.ReapStale(now.Add(-r.cfg.StaleAfter))
		if err != nil {
			r.logger.Warnw("Failed to reap stale executions", "error", err)
		} else if len(reaped) > 0 {
			r.logger.Warnw("Reaped stale executions",
				"count", len(reaped),
				"execution_ids", reaped,
			)
		}
	}

	if r.cfg.Retain > 0 {
		pruned, err := r.store.PruneFinished(r.cfg.Retain)
		if err != nil {
			r.logger.Warnw("Failed to prune finished executions", "error", err)
		} else if pruned > 0 {
			r.logger.Debugw("Pruned finished executions", "count", pruned)
		}
	}
}
