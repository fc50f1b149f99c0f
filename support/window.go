package support

import (
	"fmt"
	"time"
)

// DefaultLookback is the trailing window of a recent-cases run.
const DefaultLookback = 60 * 24 * time.Hour

// Window constrains which cases a listing returns.
type Window struct {
	RecentOnly bool
	Lookback   time.Duration
}

// Recent returns a trailing window; a non-positive lookback selects
// DefaultLookback.
func Recent(lookback time.Duration) Window {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return Window{RecentOnly: true, Lookback: lookback}
}

// AllTime returns an unbounded window.
func AllTime() Window {
	return Window{}
}

// ForRun maps the run's recentCasesOnly flag to a window.
func ForRun(recentCasesOnly bool, lookback time.Duration) Window {
	if recentCasesOnly {
		return Recent(lookback)
	}
	return AllTime()
}

// Cutoff returns the oldest admitted time, or the zero time for an
// unbounded window.
func (w Window) Cutoff(now time.Time) time.Time {
	if !w.RecentOnly {
		return time.Time{}
	}
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return now.Add(-lookback).UTC()
}

// Admits reports whether a case last updated at t falls inside the window.
// Unknown (zero) times are admitted.
func (w Window) Admits(t, now time.Time) bool {
	if !w.RecentOnly || t.IsZero() {
		return true
	}
	return !t.Before(w.Cutoff(now))
}

// AfterTime renders the cutoff in the ISO-8601 form DescribeCases expects.
// It is empty for an unbounded window.
func (w Window) AfterTime(now time.Time) string {
	if !w.RecentOnly {
		return ""
	}
	return w.Cutoff(now).Format(time.RFC3339)
}

func (w Window) String() string {
	if !w.RecentOnly {
		return "all-time"
	}
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return fmt.Sprintf("last %d days", int(lookback.Hours()/24))
}
