package shared

import (
	"strings"
	"time"
)

// DateLayout is the wire format for civil dates.
const DateLayout = "2006-01-02"

// Clock returns the current instant. Services take one so tests can pin "today".
type Clock func() time.Time

// SystemClock reads the wall clock.
func SystemClock() time.Time {
	return time.Now()
}

// CivilDate truncates t to midnight UTC of its UTC calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC civil date according to clock.
func Today(clock Clock) time.Time {
	if clock == nil {
		clock = SystemClock
	}
	return CivilDate(clock())
}

// ParseDate parses a YYYY-MM-DD string into a UTC civil date.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, Invalid("date is required")
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, Invalid("date %q must use YYYY-MM-DD", value)
	}
	return t, nil
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
