// Package scheduling finds bookable appointment slots around a desired start
// time, respecting the business working-hours window and an external busy
// predicate.
package scheduling

import (
	"context"
	"time"

	"github.com/repliq-ai/receptionist/internal/business"
)

// slotStep is the fixed granularity the search advances by.
const slotStep = 30 * time.Minute

// DefaultMaxSteps bounds the scan to roughly two days of candidates.
const DefaultMaxSteps = 96

// BusyFunc reports whether the interval [start, end) is already taken.
// Errors are treated as "free": an unreachable calendar must not block
// bookings.
type BusyFunc func(ctx context.Context, start, end time.Time) (bool, error)

// Finder searches for available slots.
type Finder struct {
	hours    business.HoursWindow
	duration time.Duration
	maxSteps int
}

// NewFinder creates a Finder for the given working window and appointment
// duration. maxSteps <= 0 selects DefaultMaxSteps.
func NewFinder(hours business.HoursWindow, duration time.Duration, maxSteps int) *Finder {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Finder{hours: hours, duration: duration, maxSteps: maxSteps}
}

// FindAlternatives walks forward from desiredStart in 30-minute increments and
// collects up to count starts that fit the working window and are not busy.
// It returns whatever it found, possibly empty, and never fails: a short
// result means no alternatives are currently offerable.
func (f *Finder) FindAlternatives(ctx context.Context, busy BusyFunc, desiredStart time.Time, count int) []time.Time {
	if count <= 0 {
		count = 2
	}
	var found []time.Time
	candidate := desiredStart
	for step := 0; step < f.maxSteps && len(found) < count; step++ {
		candidate = candidate.Add(slotStep)
		if ctx.Err() != nil {
			break
		}
		if !f.hours.Contains(candidate, f.duration) {
			continue
		}
		taken, err := busy(ctx, candidate, candidate.Add(f.duration))
		if err != nil {
			taken = false
		}
		if !taken {
			found = append(found, candidate)
		}
	}
	return found
}
