package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ParseClock converts "HH:MM" (24-hour) into minutes after midnight.
// A single-digit hour is accepted; minutes must have two digits.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q: hour out of range", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q: minute out of range", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

// LoadTimezone resolves an IANA identifier. Unlike time.LoadLocation it
// rejects the empty string instead of silently returning UTC.
func LoadTimezone(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}

// MinuteOfDay returns the minute after local midnight (0..1439) of now in loc.
func MinuteOfDay(now time.Time, loc *time.Location) int {
	local := now.In(loc)
	return local.Hour()*60 + local.Minute()
}

// IsTimeInRange reports whether now, seen in timezone, falls in the daily
// window [start, end). The start minute is inside the window and the end
// minute is not. When start > end the window wraps past midnight; when
// start == end the window is empty.
//
// Any parse failure yields false together with the error.
func IsTimeInRange(start, end, timezone string, now time.Time) (bool, error) {
	loc, err := LoadTimezone(timezone)
	if err != nil {
		return false, err
	}
	s, err := ParseClock(start)
	if err != nil {
		return false, fmt.Errorf("start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return false, fmt.Errorf("end: %w", err)
	}
	cur := MinuteOfDay(now, loc)

	if s <= e {
		return s <= cur && cur < e, nil
	}
	return cur >= s || cur < e, nil
}
