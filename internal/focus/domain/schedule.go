package domain

import (
	"fmt"
	"time"
)

const (
	DefaultStartTime = "00:00"
	DefaultEndTime   = "23:59"
)

// BlockSchedule is the per-domain blocking policy. When AlwaysOn is set the
// window is ignored; otherwise StartTime and EndTime ("HH:MM") bound it.
type BlockSchedule struct {
	Enabled   bool   `json:"enabled"`
	AlwaysOn  bool   `json:"alwaysOn"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// DefaultSchedule is assigned to newly blocked domains and stands in for a
// listed domain whose schedule is missing.
func DefaultSchedule() BlockSchedule {
	return BlockSchedule{
		Enabled:   true,
		AlwaysOn:  true,
		StartTime: DefaultStartTime,
		EndTime:   DefaultEndTime,
	}
}

// Validate enforces that windowed schedules carry two well-formed times.
// Always-on schedules may leave the times empty.
func (s BlockSchedule) Validate() error {
	if s.AlwaysOn {
		if s.StartTime != "" {
			if _, err := ParseClock(s.StartTime); err != nil {
				return fmt.Errorf("startTime: %w", err)
			}
		}
		if s.EndTime != "" {
			if _, err := ParseClock(s.EndTime); err != nil {
				return fmt.Errorf("endTime: %w", err)
			}
		}
		return nil
	}
	if s.StartTime == "" || s.EndTime == "" {
		return fmt.Errorf("%w: startTime and endTime are required unless alwaysOn", ErrInvalidTime)
	}
	if _, err := ParseClock(s.StartTime); err != nil {
		return fmt.Errorf("startTime: %w", err)
	}
	if _, err := ParseClock(s.EndTime); err != nil {
		return fmt.Errorf("endTime: %w", err)
	}
	return nil
}

// WithDefaults fills empty times with the default window.
func (s BlockSchedule) WithDefaults() BlockSchedule {
	if s.StartTime == "" {
		s.StartTime = DefaultStartTime
	}
	if s.EndTime == "" {
		s.EndTime = DefaultEndTime
	}
	return s
}

// ActiveAt reports whether the schedule blocks at now in timezone.
// The timezone is only consulted for windowed schedules.
func (s BlockSchedule) ActiveAt(timezone string, now time.Time) (bool, error) {
	if !s.Enabled {
		return false, nil
	}
	if s.AlwaysOn {
		return true, nil
	}
	return IsTimeInRange(s.StartTime, s.EndTime, timezone, now)
}
