// Package schedule provides declarative job definitions, their store, and
// the ticker that dispatches due jobs.
package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chimeworks/chime/errors"
)

// ScheduleKind distinguishes cron expressions from interval strings
type ScheduleKind string

const (
	KindCron     ScheduleKind = "cron"
	KindInterval ScheduleKind = "interval"
)

// intervalPattern matches "<N> <unit>" interval specs, e.g. "5 minutes"
var intervalPattern = regexp.MustCompile(`^(\d+)\s*(second|minute|hour|day|week)s?$`)

var unitDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseInterval parses an interval spec like "30 seconds" or "1 hour"
// into a duration. Zero-length intervals are rejected.
func ParseInterval(spec string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(strings.TrimSpace(strings.ToLower(spec)))
	if m == nil {
		return 0, errors.Wrapf(errors.ErrInvalidSchedule, "interval spec %q (want \"<N> <unit>\")", spec)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidSchedule, "interval spec %q", spec)
	}
	if n <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidSchedule, "interval spec %q must be positive", spec)
	}

	return time.Duration(n) * unitDurations[m[2]], nil
}

// ValidateSpec checks that spec parses under kind's grammar.
// Malformed schedules are rejected here, at registration time, so they
// never reach the ticker.
func ValidateSpec(kind ScheduleKind, spec string) error {
	switch kind {
	case KindCron:
		if _, err := cron.ParseStandard(spec); err != nil {
			return errors.Wrapf(errors.ErrInvalidSchedule, "cron spec %q: %v", spec, err)
		}
		return nil
	case KindInterval:
		_, err := ParseInterval(spec)
		return err
	default:
		return errors.Wrapf(errors.ErrInvalidSchedule, "unknown schedule kind %q", kind)
	}
}

// NextDue computes the earliest timestamp strictly after reference at
// which a schedule fires. Pure and deterministic given the same inputs.
//
// For cron specs this is standard 5-field cron semantics; for interval
// specs it is reference plus the interval.
func NextDue(kind ScheduleKind, spec string, reference time.Time) (time.Time, error) {
	switch kind {
	case KindCron:
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, errors.Wrapf(errors.ErrInvalidSchedule, "cron spec %q: %v", spec, err)
		}
		return sched.Next(reference), nil
	case KindInterval:
		d, err := ParseInterval(spec)
		if err != nil {
			return time.Time{}, err
		}
		return reference.Add(d), nil
	default:
		return time.Time{}, errors.Wrapf(errors.ErrInvalidSchedule, "unknown schedule kind %q", kind)
	}
}
