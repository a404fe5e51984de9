// Package errors provides error handling for Chime.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Network portability for distributed systems
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, ErrDuplicateJob) {
//	    // handle duplicate registration
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the scheduling core.
// Use these with errors.Is() for type-safe error checking, and wrap them
// with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested job or execution does not exist
	ErrNotFound = New("not found")

	// ErrDuplicateJob indicates a job definition is already registered
	// under the same (owner_service, job_name) key
	ErrDuplicateJob = New("duplicate job")

	// ErrInvalidSchedule indicates a schedule spec does not parse under its
	// declared kind; raised at registration, never at tick time
	ErrInvalidSchedule = New("invalid schedule")

	// ErrUnresolvableTarget indicates a target reference cannot be resolved
	// to a registered callable at dispatch time
	ErrUnresolvableTarget = New("unresolvable target")
)

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsDuplicateJob checks if an error is or wraps ErrDuplicateJob
func IsDuplicateJob(err error) bool {
	return err != nil && Is(err, ErrDuplicateJob)
}

// IsInvalidSchedule checks if an error is or wraps ErrInvalidSchedule
func IsInvalidSchedule(err error) bool {
	return err != nil && Is(err, ErrInvalidSchedule)
}

// IsUnresolvableTarget checks if an error is or wraps ErrUnresolvableTarget
func IsUnresolvableTarget(err error) bool {
	return err != nil && Is(err, ErrUnresolvableTarget)
}

// NewNotFoundf creates a not-found error with a formatted message
func NewNotFoundf(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
