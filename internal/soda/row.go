package soda

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Row is one result object. Socrata sends every scalar as a string or null,
// so the accessors below coerce with a zero fallback.
type Row map[string]any

// Text returns the trimmed string value of key, or "" when absent.
func (r Row) Text(key string) string {
	switch v := r[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Has reports whether key holds a non-blank value.
func (r Row) Has(key string) bool {
	return r.Text(key) != ""
}

// Float parses key as a number. Missing or unparseable values yield 0.
func (r Row) Float(key string) float64 {
	f, _ := r.FloatOK(key)
	return f
}

// FloatOK parses key as a finite number and reports whether it succeeded.
func (r Row) FloatOK(key string) (float64, bool) {
	return ParseNumber(r.Text(key))
}

// Int is Float truncated to an int.
func (r Row) Int(key string) int {
	return int(r.Float(key))
}

// ParseNumber parses a numeric string, ignoring thousands separators.
func ParseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
