// Package dispatch provides the execution ledger, the work queue, and
// the worker pool that invokes job targets.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of an execution.
// These are stable string identifiers persisted by external callers;
// they must never be renamed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionError captures a failed invocation as a structured error
type ExecutionError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Execution records one dispatch attempt of a job. Created in queued
// state by the dispatcher; the claiming worker owns it afterwards.
//
// Legal transitions: queued -> running -> {success, failed} and
// queued -> cancelled. Terminal states never transition again.
type Execution struct {
	ID           string          `json:"id"`
	OwnerService string          `json:"owner_service"`
	JobName      string          `json:"job_name"`
	Target       string          `json:"target"`
	Args         []any           `json:"args,omitempty"`
	Kwargs       map[string]any  `json:"kwargs,omitempty"`
	Status       Status          `json:"status"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Result       any             `json:"result,omitempty"`
	Error        *ExecutionError `json:"error,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewExecution creates a queued execution for a job's target
func NewExecution(ownerService, jobName, target string, args []any, kwargs map[string]any) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:           uuid.NewString(),
		OwnerService: ownerService,
		JobName:      jobName,
		Target:       target,
		Args:         args,
		Kwargs:       kwargs,
		Status:       StatusQueued,
		EnqueuedAt:   now,
		UpdatedAt:    now,
	}
}

// JobKey returns the "<owner_service>:<job_name>" key of the definition
// this execution belongs to
func (e *Execution) JobKey() string {
	return e.OwnerService + ":" + e.JobName
}

// IsTerminal returns true once the execution can no longer transition
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Start marks the execution as claimed by a worker
func (e *Execution) Start() {
	now := time.Now().UTC()
	e.Status = StatusRunning
	e.StartedAt = &now
	e.UpdatedAt = now
}

// Succeed marks the execution finished with a result
func (e *Execution) Succeed(result any) {
	now := time.Now().UTC()
	e.Status = StatusSuccess
	e.Result = result
	e.FinishedAt = &now
	e.UpdatedAt = now
}

// Fail marks the execution finished with a structured error
func (e *Execution) Fail(errType, message string) {
	now := time.Now().UTC()
	e.Status = StatusFailed
	e.Error = &ExecutionError{Type: errType, Message: message}
	e.FinishedAt = &now
	e.UpdatedAt = now
}

// Duration returns wall time from start to finish, zero until finished
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}
