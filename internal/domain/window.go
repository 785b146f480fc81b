package domain

import "time"

// NeedsReset reports whether the quota window for a dimension has elapsed
// between lastReset and now.
//
// Daily dimensions reset on the UTC calendar-day boundary. Weekly and
// thirty-day dimensions use rolling windows measured from the last reset.
// The asymmetry is deliberate and matches the product's documented
// behavior; see DESIGN.md before "fixing" it.
func NeedsReset(dim Dimension, lastReset, now time.Time) bool {
	if !now.After(lastReset) {
		return false
	}

	switch dim.Cadence() {
	case CadenceDaily:
		lr, n := lastReset.UTC(), now.UTC()
		return lr.Year() != n.Year() || lr.YearDay() != n.YearDay()
	case CadenceWeekly:
		return now.Sub(lastReset) >= 7*24*time.Hour
	case CadenceThirtyDay:
		return now.Sub(lastReset) >= 30*24*time.Hour
	default:
		return false
	}
}

// NextReset returns when the window for a counter will next elapse.
// Used only for display in usage snapshots.
func NextReset(dim Dimension, lastReset time.Time) time.Time {
	switch dim.Cadence() {
	case CadenceDaily:
		lr := lastReset.UTC()
		return time.Date(lr.Year(), lr.Month(), lr.Day()+1, 0, 0, 0, 0, time.UTC)
	case CadenceWeekly:
		return lastReset.Add(7 * 24 * time.Hour)
	case CadenceThirtyDay:
		return lastReset.Add(30 * 24 * time.Hour)
	default:
		return lastReset
	}
}
