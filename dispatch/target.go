package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chimeworks/chime/errors"
)

// TargetFunc is a callable a job definition can reference.
// Services implement their job bodies as TargetFuncs and register them
// by dotted reference, keeping the dispatch infrastructure decoupled
// from domain logic.
//
// Context cancellation: targets should check ctx.Done() periodically
// and exit cleanly when cancelled.
type TargetFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry maps dotted target references ("<module path>:<callable>",
// e.g. "mailer.tasks:sync_inbox") to registered functions.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	targets map[string]TargetFunc
	mu      sync.RWMutex
}

// NewRegistry creates an empty target registry
func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]TargetFunc),
	}
}

// Register adds a target function under its dotted reference.
// Panics if the reference is malformed or already registered: both are
// programming errors at service startup, not runtime conditions.
func (r *Registry) Register(reference string, fn TargetFunc) {
	if !strings.Contains(reference, ":") {
		panic(fmt.Sprintf("target reference missing ':' separator: %s", reference))
	}
	if fn == nil {
		panic(fmt.Sprintf("nil target function for reference: %s", reference))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[reference]; exists {
		panic(fmt.Sprintf("target already registered for reference: %s", reference))
	}
	r.targets[reference] = fn
}

// Resolve looks up the function for a dotted reference.
// Fails with ErrUnresolvableTarget when nothing is registered under it.
func (r *Registry) Resolve(reference string) (TargetFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.targets[reference]
	if !exists {
		return nil, errors.Wrapf(errors.ErrUnresolvableTarget, "%s", reference)
	}
	return fn, nil
}

// Has checks if a reference is registered
func (r *Registry) Has(reference string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.targets[reference]
	return exists
}

// References returns all registered references, sorted
func (r *Registry) References() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.targets))
	for ref := range r.targets {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
