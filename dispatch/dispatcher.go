package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/chimeworks/chime/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Request describes a job to dispatch
type Request struct {
	OwnerService string
	JobName      string
	Target       string
	Args         []any
	Kwargs       map[string]any
}

// Dispatcher accepts jobs, records them in the execution ledger, and
// hands queued executions to workers. The mutex serializes claim
// against enqueue and cancel so an execution is never handed out twice.
type Dispatcher struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Execution
}

// NewDispatcher creates a dispatcher over the execution ledger
func NewDispatcher(db *sql.DB) *Dispatcher {
	return &Dispatcher{
		store:       NewStore(db),
		subscribers: make([]chan *Execution, 0),
	}
}

// Store exposes the underlying ledger for read-only collaborators
func (d *Dispatcher) Store() *Store {
	return d.store
}

// Enqueue creates a queued execution for the request.
// The returned execution has enqueued_at set and no started/finished
// timestamps.
func (d *Dispatcher) Enqueue(ctx context.Context, req Request) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	exec := NewExecution(req.OwnerService, req.JobName, req.Target, req.Args, req.Kwargs)
	if err := d.store.CreateExecution(exec); err != nil {
		err = errors.Wrap(err, "failed to enqueue execution")
		err = errors.WithDetail(err, fmt.Sprintf("Job: %s", exec.JobKey()))
		err = errors.WithDetail(err, fmt.Sprintf("Target: %s", exec.Target))
		return nil, err
	}

	d.notifySubscribers(exec)
	return exec, nil
}

// Claim takes the oldest queued execution and marks it running.
// Returns (nil, nil) when the queue is empty.
func (d *Dispatcher) Claim() (*Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exec, err := d.store.OldestQueued()
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to claim execution")
	}

	exec.Start()
	claimed, err := d.store.StartIfQueued(exec)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark execution %s running", exec.ID)
	}
	if !claimed {
		// Another process claimed or cancelled the row first
		return nil, nil
	}

	d.notifySubscribers(exec)
	return exec, nil
}

// GetExecution retrieves an execution by ID
func (d *Dispatcher) GetExecution(id string) (*Execution, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.GetExecution(id)
}

// GetStatus returns the current status of an execution
func (d *Dispatcher) GetStatus(id string) (Status, error) {
	exec, err := d.GetExecution(id)
	if err != nil {
		return "", err
	}
	return exec.Status, nil
}

// LatestForJob returns the most recent execution for a job key
func (d *Dispatcher) LatestForJob(ownerService, jobName string) (*Execution, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.LatestForJob(ownerService, jobName)
}

// Complete marks a claimed execution successful with its result
func (d *Dispatcher) Complete(exec *Execution, result any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	exec.Succeed(result)
	if err := d.store.UpdateExecution(exec); err != nil {
		return errors.Wrapf(err, "failed to complete execution %s", exec.ID)
	}

	d.notifySubscribers(exec)
	return nil
}

// Fail marks a claimed execution failed with a structured error
func (d *Dispatcher) Fail(exec *Execution, errType, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	exec.Fail(errType, message)
	if err := d.store.UpdateExecution(exec); err != nil {
		return errors.Wrapf(err, "failed to mark execution %s failed", exec.ID)
	}

	d.notifySubscribers(exec)
	return nil
}

// Cancel transitions a still-queued execution to cancelled.
// Returns true when this call performed the transition; false when the
// execution had already started or finished. Unknown IDs return
// ErrNotFound.
func (d *Dispatcher) Cancel(id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cancelled, err := d.store.CancelIfQueued(id)
	if err != nil {
		return false, err
	}
	if !cancelled {
		// Distinguish "already past queued" from "no such execution"
		if _, err := d.store.GetExecution(id); err != nil {
			return false, err
		}
		return false, nil
	}

	exec, err := d.store.GetExecution(id)
	if err != nil {
		return true, err
	}
	d.notifySubscribers(exec)
	return true, nil
}

// Subscribe returns a channel receiving execution updates.
// Slow subscribers miss updates rather than block the dispatcher.
func (d *Dispatcher) Subscribe() chan *Execution {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan *Execution, SubscriberChannelBufferSize)
	d.subscribers = append(d.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel
func (d *Dispatcher) Unsubscribe(ch chan *Execution) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, sub := range d.subscribers {
		if sub == ch {
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifySubscribers sends the execution to all subscribers without
// blocking. Callers must hold d.mu.
func (d *Dispatcher) notifySubscribers(exec *Execution) {
	for _, ch := range d.subscribers {
		select {
		case ch <- exec:
		default:
			// Subscriber buffer full, drop the update
		}
	}
}
