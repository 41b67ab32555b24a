package soda

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

// DefaultLimit is the row limit sent when a query does not set one.
const DefaultLimit = 1000

// Query is one SoQL request against a dataset.
type Query struct {
	Select string
	Where  string
	Order  string
	Group  string
	Limit  int
}

// Values encodes q as SoQL query parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Select != "" {
		v.Set("$select", q.Select)
	}
	if q.Where != "" {
		v.Set("$where", q.Where)
	}
	if q.Order != "" {
		v.Set("$order", q.Order)
	}
	if q.Group != "" {
		v.Set("$group", q.Group)
	}
	v.Set("$limit", strconv.Itoa(q.limit()))
	return v
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// And joins the non-blank clauses with AND. Constructors below return "" when
// their input is absent, so optional filters can be passed straight through.
func And(clauses ...string) string {
	kept := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if strings.TrimSpace(c) != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, " AND ")
}

// Quote renders a SoQL string literal, doubling embedded single quotes.
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// WithinCircle matches rows whose point column lies within radiusM of (lat, lon).
func WithinCircle(field string, lat, lon, radiusM float64) string {
	return "within_circle(" + field + ", " + geo.FormatCoord(lat) + ", " + geo.FormatCoord(lon) + ", " + geo.FormatCoord(radiusM) + ")"
}

// Intersects matches rows whose polygon column contains the point (lon, lat).
func Intersects(field string, lon, lat float64) string {
	return "intersects(" + field + ", " + Quote(geo.PointWKT(lon, lat)) + ")"
}

// TimeRange matches a timestamp column using plain quoted ISO literals:
// "field >= 'start'" when end is zero, else "field between 'start' and 'end'".
func TimeRange(field string, start, end time.Time) string {
	if end.IsZero() {
		return field + " >= " + Quote(timeutil.ISO(start))
	}
	return field + " between " + Quote(timeutil.ISO(start)) + " and " + Quote(timeutil.ISO(end))
}

// CompareISO compares a timestamp column with a plain quoted ISO literal.
func CompareISO(field, op string, t time.Time) string {
	return field + " " + op + " " + Quote(timeutil.ISO(t))
}

// CompareCast casts a text column to floating_timestamp and compares it with
// a zone-less, second-precision literal.
func CompareCast(field, op string, t time.Time) string {
	return field + "::floating_timestamp " + op + " " + TimestampLiteral(t)
}

// TimestampLiteral is the truncated, quoted literal used with casts.
func TimestampLiteral(t time.Time) string {
	return Quote(t.UTC().Format(timeutil.FloatingLayout))
}

// CompactDate is a quoted YYYYMMDD literal for text date columns.
func CompactDate(t time.Time) string {
	return Quote(t.UTC().Format("20060102"))
}

// NumberBetween bounds a numeric expression, e.g. a bounding-box edge.
func NumberBetween(expr string, lo, hi float64) string {
	return expr + " between " + geo.FormatCoord(lo) + " and " + geo.FormatCoord(hi)
}

// In matches any of values. Blank values are dropped; none left yields "".
func In(field string, values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			quoted = append(quoted, Quote(v))
		}
	}
	if len(quoted) == 0 {
		return ""
	}
	return field + " in (" + strings.Join(quoted, ", ") + ")"
}

// BoroughEquals is a case-insensitive borough match, or "" without a borough.
func BoroughEquals(field, borough string) string {
	borough = strings.TrimSpace(borough)
	if borough == "" {
		return ""
	}
	return "upper(" + field + ") = " + Quote(strings.ToUpper(borough))
}

// Equals is an exact string match, or "" when value is empty.
func Equals(field, value string) string {
	if value == "" {
		return ""
	}
	return field + " = " + Quote(value)
}

// NotNull matches rows where field is present.
func NotNull(field string) string {
	return field + " is not null"
}
