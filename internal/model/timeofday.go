package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a validated wall-clock time (HH:MM, no date). Schedule strings
// are parsed once at the boundary; internal logic never re-parses raw input.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" with hour in [0,23] and minute in [0,59].
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// ParseTimesOfDay parses a schedule of "HH:MM" strings.
func ParseTimesOfDay(values []string) ([]TimeOfDay, error) {
	out := make([]TimeOfDay, 0, len(values))
	for _, v := range values {
		tod, err := ParseTimeOfDay(v)
		if err != nil {
			return nil, err
		}
		out = append(out, tod)
	}
	return out, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the UTC instant of this wall-clock time on the date of day.
// Scheduling compares against the server clock in UTC.
func (t TimeOfDay) On(day time.Time) time.Time {
	day = day.UTC()
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
}

// Matches reports whether now falls within tolerance of this time of day,
// on either side of the slot instant.
func (t TimeOfDay) Matches(now time.Time, tolerance time.Duration) bool {
	slot := t.On(now)
	diff := now.Sub(slot)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
