package domain

import "time"

// DateFormat is the civil date layout used in logs, prompts, and summaries.
const DateFormat = "2006-01-02"

// Day truncates t to midnight UTC. All prediction and weather dates are
// civil dates; comparing un-normalized timestamps silently misses matches.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current civil date from the package clock.
func Today() time.Time {
	return Day(clock.Now())
}

// DateRange returns every civil date in [start, end] inclusive, ascending.
// Returns nil when start is after end.
func DateRange(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if start.After(end) {
		return nil
	}
	days := int(end.Sub(start).Hours()/24) + 1
	dates := make([]time.Time, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
