// Package timeutil formats timestamps the way the catalog
// store persists them: RFC3339Nano in UTC.
package timeutil

import "time"

// Format returns t as RFC3339Nano UTC, or "" for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Ptr returns a pointer to the formatted time, or nil for the
// zero time. Used for nullable TEXT columns.
func Ptr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := Format(t)
	return &s
}

// Parse accepts RFC3339 with or without fractional seconds and
// plain YYYY-MM-DD dates. Returns the zero time on failure.
func Parse(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano, time.RFC3339, "2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
