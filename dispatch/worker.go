package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chimeworks/chime/errors"
)

// EventPublisher broadcasts execution outcomes so other services can
// react without polling the ledger. Optional: can be nil for tests.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, target string, payload map[string]any) error
}

// Event types emitted by workers on execution outcomes
const (
	EventExecutionCompleted = "task.completed"
	EventExecutionFailed    = "task.failed"
)

// WorkerPool manages a pool of workers that claim queued executions,
// resolve their targets, and invoke them
type WorkerPool struct {
	dispatcher *Dispatcher
	registry   *Registry
	events     EventPublisher
	poolConfig WorkerPoolConfig
	parentCtx  context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu            sync.Mutex
	activeWorkers int
	processed     int64
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often idle workers poll for queued work
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 1 * time.Second,
	}
}

// NewWorkerPool creates a worker pool with a parent context.
// Callers must register targets on the registry before Start().
func NewWorkerPool(ctx context.Context, dispatcher *Dispatcher, registry *Registry, events EventPublisher, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}

	return &WorkerPool{
		dispatcher: dispatcher,
		registry:   registry,
		events:     events,
		poolConfig: cfg,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     log,
	}
}

// Start begins processing executions. Executions left running by a
// previous process are failed first so a crash never strands work in a
// non-terminal state.
func (wp *WorkerPool) Start() {
	select {
	case <-wp.ctx.Done():
		// Restart after Stop(): recreate the worker context
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}

	if err := wp.failOrphanedExecutions(); err != nil {
		wp.logger.Warnw("Failed to resolve orphaned executions", "error", err)
		// Continue starting workers even if recovery fails
	}

	for i := 0; i < wp.poolConfig.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Infow("Worker pool started",
		"workers", wp.poolConfig.Workers,
		"poll_interval", wp.poolConfig.PollInterval,
	)
}

// Stop gracefully stops the worker pool, waiting for in-flight targets
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped")
	case <-time.After(timeout):
		wp.logger.Warnw("Worker pool stop timeout, targets may still be finishing", "timeout", timeout)
	}
}

// ActiveWorkers returns the number of workers currently executing a target
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// failOrphanedExecutions marks executions stuck in running state from
// an ungraceful shutdown (crash, kill -9, power loss) as failed.
// Status only moves forward: the claimed record never returns to
// queued, and the scheduler re-enqueues the job once it is next due.
func (wp *WorkerPool) failOrphanedExecutions() error {
	orphaned, err := wp.dispatcher.store.ListExecutions(ExecutionFilter{Status: StatusRunning})
	if err != nil {
		return errors.Wrap(err, "failed to list running executions")
	}
	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Infow("Failing executions orphaned by previous shutdown", "count", len(orphaned))
	for _, exec := range orphaned {
		if err := wp.dispatcher.Fail(exec, "WorkerLost", "worker exited before this execution finished"); err != nil {
			wp.logger.Warnw("Failed to resolve orphaned execution", "execution_id", exec.ID, "error", err)
		}
	}
	return nil
}

// worker is the claim-and-invoke loop. An execution whose target fails
// or panics is marked failed; the loop itself never dies.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNext(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error processing execution",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount,
				)
				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off after consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
					)
					time.Sleep(backoffDuration)
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
			} else {
				errorCount = 0
				backoffDuration = time.Second
			}
		}
	}
}

// processNext claims the oldest queued execution and runs it to a
// terminal state. A target error or panic fails the execution, not the
// worker; only infrastructure errors propagate to the caller's backoff.
func (wp *WorkerPool) processNext() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	exec, err := wp.dispatcher.Claim()
	if err != nil {
		return errors.Wrap(err, "failed to claim execution")
	}
	if exec == nil {
		return nil // queue empty
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.processed++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	fn, err := wp.registry.Resolve(exec.Target)
	if err != nil {
		wp.logger.Warnw("Execution target unresolvable",
			"execution_id", exec.ID,
			"job", exec.JobKey(),
			"target", exec.Target,
		)
		if failErr := wp.dispatcher.Fail(exec, "UnresolvableTarget", err.Error()); failErr != nil {
			return failErr
		}
		wp.publishOutcome(exec)
		return nil
	}

	result, err := wp.invoke(fn, exec)
	if err != nil {
		select {
		case <-wp.ctx.Done():
			// Shutdown interrupted the target. The record stays on its
			// forward path (running -> failed); the scheduler enqueues a
			// fresh execution once the job is next due.
			if failErr := wp.dispatcher.Fail(exec, "WorkerShutdown", "worker shut down before the target finished"); failErr != nil {
				wp.logger.Errorw("Failed to record interrupted execution",
					"execution_id", exec.ID, "error", failErr)
			}
			return nil
		default:
		}
		if failErr := wp.dispatcher.Fail(exec, errorType(err), err.Error()); failErr != nil {
			return failErr
		}
		wp.publishOutcome(exec)
		return nil
	}

	if err := wp.dispatcher.Complete(exec, result); err != nil {
		return err
	}
	wp.logger.Infow("Execution completed",
		"execution_id", exec.ID,
		"job", exec.JobKey(),
		"duration_ms", exec.Duration().Milliseconds(),
	)
	wp.publishOutcome(exec)
	return nil
}

// invoke runs the target, converting panics into errors so one bad
// target cannot take down the worker loop
func (wp *WorkerPool) invoke(fn TargetFunc, exec *Execution) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Execution target panicked",
				"execution_id", exec.ID,
				"job", exec.JobKey(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = errors.Newf("target panicked: %v", r)
		}
	}()
	return fn(wp.ctx, exec.Args, exec.Kwargs)
}

// publishOutcome broadcasts the terminal state of an execution to the
// owning service's channel
func (wp *WorkerPool) publishOutcome(exec *Execution) {
	if wp.events == nil {
		return
	}

	eventType := EventExecutionCompleted
	if exec.Status != StatusSuccess {
		eventType = EventExecutionFailed
	}

	payload := map[string]any{
		"execution_id": exec.ID,
		"job":          exec.JobKey(),
		"status":       string(exec.Status),
	}
	if exec.Error != nil {
		payload["error"] = fmt.Sprintf("%s: %s", exec.Error.Type, exec.Error.Message)
	}

	if err := wp.events.Publish(wp.parentCtx, eventType, exec.OwnerService, payload); err != nil {
		wp.logger.Warnw("Failed to publish execution outcome",
			"execution_id", exec.ID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// errorType derives a stable error classification for the ledger
func errorType(err error) string {
	switch {
	case errors.IsUnresolvableTarget(err):
		return "UnresolvableTarget"
	case errors.IsNotFound(err):
		return "NotFound"
	default:
		return "Error"
	}
}
