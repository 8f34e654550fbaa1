package database

import "time"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format("2006-01-02")
}

// FormatDateDisplay formats a briefing date for human-readable display,
// e.g. "Aug 29, 2026".
func FormatDateDisplay(briefingDate string) string {
	d, err := time.Parse("2006-01-02", briefingDate)
	if err != nil {
		return briefingDate
	}
	return d.Format("Jan 02, 2006")
}
