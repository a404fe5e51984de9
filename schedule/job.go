package schedule

import (
	"fmt"
	"time"
)

// JobDefinition describes a schedulable unit of work registered by an
// owning service. The scheduler reads definitions; only the owner (or
// the admin surface acting for it) mutates them.
type JobDefinition struct {
	OwnerService string         `json:"owner_service"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Enabled      bool           `json:"enabled"`
	Kind         ScheduleKind   `json:"schedule_kind"`
	Spec         string         `json:"schedule_spec"`
	Target       string         `json:"target"` // dotted reference, "<module path>:<callable name>"
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Key returns the unique "<owner_service>:<name>" identity of the definition
func (j *JobDefinition) Key() string {
	return fmt.Sprintf("%s:%s", j.OwnerService, j.Name)
}

// Validate checks the definition's identity fields and schedule grammar
func (j *JobDefinition) Validate() error {
	if j.OwnerService == "" {
		return fmt.Errorf("job definition missing owner_service")
	}
	if j.Name == "" {
		return fmt.Errorf("job definition missing name")
	}
	if j.Target == "" {
		return fmt.Errorf("job %s missing target", j.Key())
	}
	return ValidateSpec(j.Kind, j.Spec)
}
