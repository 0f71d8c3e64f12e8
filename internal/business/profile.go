// Package business holds the static profile of the tenant business: name,
// address, services, daily working hours, and the fixed timezone bookings are
// quoted in. The profile is injected read-only; nothing in the conversation
// flow mutates it.
package business

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HoursWindow is the daily working window in wall-clock minutes from midnight.
// Hours do not span midnight.
type HoursWindow struct {
	OpenMinutes  int
	CloseMinutes int
}

// ParseHoursWindow parses "09:00"/"18:00" style bounds into an HoursWindow.
func ParseHoursWindow(open, close string) (HoursWindow, error) {
	openMin, err := parseWallClock(open)
	if err != nil {
		return HoursWindow{}, fmt.Errorf("business: invalid open time %q: %w", open, err)
	}
	closeMin, err := parseWallClock(close)
	if err != nil {
		return HoursWindow{}, fmt.Errorf("business: invalid close time %q: %w", close, err)
	}
	if closeMin <= openMin {
		return HoursWindow{}, fmt.Errorf("business: close %q must be after open %q", close, open)
	}
	return HoursWindow{OpenMinutes: openMin, CloseMinutes: closeMin}, nil
}

func parseWallClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour out of range")
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute out of range")
	}
	return hour*60 + minute, nil
}

// Contains reports whether the interval [start, start+duration] fits entirely
// inside the window on start's own calendar date.
func (w HoursWindow) Contains(start time.Time, duration time.Duration) bool {
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(duration.Minutes())
	return startMin >= w.OpenMinutes && endMin <= w.CloseMinutes
}

// String renders the window as "09:00 - 18:00" for customer-facing messages.
func (w HoursWindow) String() string {
	return fmt.Sprintf("%02d:%02d - %02d:%02d",
		w.OpenMinutes/60, w.OpenMinutes%60, w.CloseMinutes/60, w.CloseMinutes%60)
}

// Profile describes the business the receptionist answers for.
type Profile struct {
	Name                string
	Address             string
	Services            string
	Hours               HoursWindow
	AppointmentDuration time.Duration
	RecoveryBookingLink string
	Location            *time.Location
}

// NewProfile validates and assembles a Profile. utcOffsetHours fixes the
// business timezone (the legacy deployment pins UTC+2 for Europe/Riga).
func NewProfile(name, address, services, hoursOpen, hoursClose string, appointmentMinutes, utcOffsetHours int, recoveryLink string) (*Profile, error) {
	window, err := ParseHoursWindow(hoursOpen, hoursClose)
	if err != nil {
		return nil, err
	}
	if appointmentMinutes <= 0 {
		return nil, fmt.Errorf("business: appointment duration must be positive, got %d", appointmentMinutes)
	}
	return &Profile{
		Name:                name,
		Address:             address,
		Services:            services,
		Hours:               window,
		AppointmentDuration: time.Duration(appointmentMinutes) * time.Minute,
		RecoveryBookingLink: recoveryLink,
		Location:            time.FixedZone(fmt.Sprintf("UTC%+d", utcOffsetHours), utcOffsetHours*3600),
	}, nil
}

// Now returns the current time in the business timezone.
func (p *Profile) Now() time.Time {
	return time.Now().In(p.Location)
}

// WithinHours reports whether an appointment starting at t fits the working window.
func (p *Profile) WithinHours(t time.Time) bool {
	return p.Hours.Contains(t.In(p.Location), p.AppointmentDuration)
}
