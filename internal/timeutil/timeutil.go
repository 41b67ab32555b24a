// Package timeutil provides the UTC window arithmetic and timestamp parsing
// shared by the module builders.
package timeutil

import (
	"math"
	"strings"
	"time"
)

// ISOLayout is the millisecond-precision UTC layout used in responses and
// plain quoted query literals.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// FloatingLayout is the zone-less, second-precision layout accepted by
// floating_timestamp casts.
const FloatingLayout = "2006-01-02T15:04:05"

const day = 24 * time.Hour

// ISO formats t in UTC with ISOLayout.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// DaysAgo returns now shifted back n UTC calendar days.
func DaysAgo(now time.Time, n int) time.Time {
	return now.UTC().AddDate(0, 0, -n)
}

// DaysAhead returns now shifted forward n UTC calendar days.
func DaysAhead(now time.Time, n int) time.Time {
	return now.UTC().AddDate(0, 0, n)
}

// layouts lists the timestamp shapes seen across the city datasets.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	FloatingLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 03:04:05 PM",
	"01/02/2006",
	"1/2/2006",
	"20060102",
}

// Parse reads a dataset timestamp. Zone-less values are taken as UTC.
func Parse(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NormalizeISO re-renders a dataset timestamp with ISOLayout, or returns ""
// when it cannot be parsed.
func NormalizeISO(value string) string {
	t, ok := Parse(value)
	if !ok {
		return ""
	}
	return ISO(t)
}

// DurationDays returns the span between two timestamps in whole days,
// rounded and never less than 1. Missing, unparseable or inverted inputs
// yield 0.
func DurationDays(start, end string) int {
	s, ok := Parse(start)
	if !ok {
		return 0
	}
	e, ok := Parse(end)
	if !ok || e.Before(s) {
		return 0
	}
	days := int(math.Round(float64(e.Sub(s)) / float64(day)))
	if days < 1 {
		return 1
	}
	return days
}

// ActiveAt reports whether now falls inside [start, end]. Either bound
// missing or unparseable means not active.
func ActiveAt(now time.Time, start, end string) bool {
	s, ok := Parse(start)
	if !ok {
		return false
	}
	e, ok := Parse(end)
	if !ok {
		return false
	}
	return !now.Before(s) && !now.After(e)
}
