package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// FromUnixMillis converts epoch milliseconds, treating non-positive values as unset.
func FromUnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// RelativeWindow renders a lookback duration as a relative "now-<n><unit>" expression
// using the coarsest unit that divides the duration exactly.
func RelativeWindow(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	switch {
	case d%(7*24*time.Hour) == 0:
		return fmt.Sprintf("now-%dw", d/(7*24*time.Hour))
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("now-%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("now-%dh", d/time.Hour)
	}
	minutes := d / time.Minute
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("now-%dm", minutes)
}

// ShortDuration renders a duration as its largest exact unit, e.g. "2h" or "7d".
func ShortDuration(d time.Duration) string {
	return RelativeWindow(d)[len("now-"):]
}

// SinceMidnight returns the elapsed time since local midnight of now, at least one minute.
func SinceMidnight(now time.Time) time.Duration {
	y, m, day := now.Date()
	midnight := time.Date(y, m, day, 0, 0, 0, 0, now.Location())
	elapsed := now.Sub(midnight)
	if elapsed < time.Minute {
		return time.Minute
	}
	return elapsed.Truncate(time.Minute)
}
