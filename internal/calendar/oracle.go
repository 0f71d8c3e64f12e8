// Package calendar wraps the external calendar behind a free/busy oracle and
// an event-creation sink. The rest of the system never talks to a calendar
// vendor directly.
package calendar

import (
	"context"
	"time"
)

// Oracle is the availability boundary: a free/busy query plus event creation.
//
// Policy: an unconfigured or unreachable oracle fails open — intervals are
// reported not busy and bookings proceed. Blocking every booking because the
// calendar integration is down is worse than risking a double booking.
type Oracle interface {
	// IsBusy reports whether [start, end) overlaps an existing event.
	IsBusy(ctx context.Context, start, end time.Time) (bool, error)
	// CreateEvent writes an appointment and returns the provider's event ref.
	CreateEvent(ctx context.Context, start, end time.Time, summary, description string) (string, error)
}

// NullOracle is the oracle used when no calendar is configured: nothing is
// ever busy and event creation is a no-op.
type NullOracle struct{}

// IsBusy always reports free.
func (NullOracle) IsBusy(context.Context, time.Time, time.Time) (bool, error) {
	return false, nil
}

// CreateEvent discards the event and returns an empty ref.
func (NullOracle) CreateEvent(context.Context, time.Time, time.Time, string, string) (string, error) {
	return "", nil
}
