package daterange

import (
	"errors"
	"time"
)

// Layout is the wire format for dates exchanged with the booking backend.
const Layout = "2006-01-02"

// Validation errors, checked in order by Validate.
var (
	// ErrMissingDates means one or both dates are unset. Callers treat this
	// as a quiet no-op, not a user-facing error.
	ErrMissingDates = errors.New("missing dates")

	// ErrPickupInPast means the pickup date is before today.
	ErrPickupInPast = errors.New("pickup must be today or later")

	// ErrReturnNotAfterPickup means the return date is on or before pickup.
	ErrReturnNotAfterPickup = errors.New("return must be after pickup")
)

// Range is a pickup/return date pair. Both fields are date-only values
// (time of day stripped); the zero value of either field means "unset".
type Range struct {
	Pickup time.Time
	Return time.Time
}

// Nights returns the number of rental nights in the range, or 0 when either
// date is missing or the range is inverted.
func (r Range) Nights() int {
	return Nights(r.Pickup, r.Return)
}

// IsSet reports whether both dates are present.
func (r Range) IsSet() bool {
	return !r.Pickup.IsZero() && !r.Return.IsZero()
}

// DateOnly strips the time-of-day component, keeping the location.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Parse parses a YYYY-MM-DD date string. An empty string parses to the zero
// time without error, so unset form fields flow through as "missing".
func Parse(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(Layout, s, time.Local)
}

// Format formats a date as YYYY-MM-DD. The zero time formats as "".
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(Layout)
}

// Nights computes ceil((ret - pickup) / 1 day), never negative. Partial days
// round up. Both endpoints are rebuilt on a UTC clock before subtracting:
// calendar nights must count the same whether or not the range crosses a DST
// transition, where a wall-clock night runs 23 or 25 hours.
func Nights(pickup, ret time.Time) int {
	if pickup.IsZero() || ret.IsZero() {
		return 0
	}
	days := utcClock(ret).Sub(utcClock(pickup)).Hours() / 24
	nights := int(days)
	if days > float64(nights) {
		nights++
	}
	if nights < 0 {
		return 0
	}
	return nights
}

// utcClock rebuilds t's calendar date and clock reading in UTC, discarding
// the original zone offset
func utcClock(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

// MinReturn returns the earliest selectable return date for a pickup date:
// the following day.
func MinReturn(pickup time.Time) time.Time {
	if pickup.IsZero() {
		return time.Time{}
	}
	return DateOnly(pickup).AddDate(0, 0, 1)
}

// Validate checks a pickup/return pair against today and returns the night
// count on success. Rules are applied in order:
//  1. both dates present
//  2. pickup >= today (date-only comparison)
//  3. return > pickup
func Validate(pickup, ret, today time.Time) (int, error) {
	if pickup.IsZero() || ret.IsZero() {
		return 0, ErrMissingDates
	}

	pickup = DateOnly(pickup)
	ret = DateOnly(ret)
	today = DateOnly(today)

	if pickup.Before(today) {
		return 0, ErrPickupInPast
	}

	if !ret.After(pickup) {
		return 0, ErrReturnNotAfterPickup
	}

	nights := Nights(pickup, ret)
	if nights < 1 {
		// return > pickup on date-only values always yields at least one
		// night; guard kept for callers passing non-normalized times.
		nights = 1
	}

	return nights, nil
}
