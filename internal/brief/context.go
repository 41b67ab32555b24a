package brief

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

// Fixed query parameters.
const (
	RadiusPrimaryM   = 150.0
	RadiusSecondaryM = 400.0
	ClusterRadiusM   = 75.0
	ItemLimit        = 12
	MaxMapFeatures   = 200
)

// ErrInvalidLocation is returned before any query runs when the input
// location cannot be used.
var ErrInvalidLocation = errors.New("invalid location")

// QueryContext is the read-only per-build view every module builder shares.
type QueryContext struct {
	Location         ResolvedLocation
	RadiusPrimaryM   float64
	RadiusSecondaryM float64

	// Now is captured once per build so every module agrees on the clock.
	Now       time.Time
	Window30d time.Time
	Window90d time.Time
	Window12m time.Time

	// BlockKey partitions cache entries by parcel or by a ~1m grid cell.
	BlockKey string
}

// NewQueryContext validates loc and derives the windows from now.
func NewQueryContext(loc ResolvedLocation, now time.Time) (*QueryContext, error) {
	if err := ValidateLocation(loc); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &QueryContext{
		Location:         loc,
		RadiusPrimaryM:   RadiusPrimaryM,
		RadiusSecondaryM: RadiusSecondaryM,
		Now:              now,
		Window30d:        timeutil.DaysAgo(now, 30),
		Window90d:        timeutil.DaysAgo(now, 90),
		Window12m:        timeutil.DaysAgo(now, 365),
		BlockKey:         geo.BlockKey(loc.Lat, loc.Lon, loc.BBL),
	}, nil
}

// ValidateLocation checks the coordinate is usable.
func ValidateLocation(loc ResolvedLocation) error {
	if !(geo.Point{Lat: loc.Lat, Lon: loc.Lon}).Valid() {
		return fmt.Errorf("%w: coordinate (%v, %v) out of range", ErrInvalidLocation, loc.Lat, loc.Lon)
	}
	if loc.Lat == 0 && loc.Lon == 0 {
		return fmt.Errorf("%w: missing coordinate", ErrInvalidLocation)
	}
	return nil
}

// Point returns the query point.
func (qc *QueryContext) Point() geo.Point {
	return geo.Point{Lat: qc.Location.Lat, Lon: qc.Location.Lon}
}

// NowISO is Now formatted for plain ISO literals.
func (qc *QueryContext) NowISO() string {
	return timeutil.ISO(qc.Now)
}

// Borough is the upper-cased borough name, or "" when unknown.
func (qc *QueryContext) Borough() string {
	return strings.ToUpper(strings.TrimSpace(qc.Location.Borough))
}

// HourBucket truncates Now to the hour, for cache keys of "right now" queries.
func (qc *QueryContext) HourBucket() string {
	return qc.Now.Format("2006-01-02T15")
}

// DayBucket truncates Now to the day.
func (qc *QueryContext) DayBucket() string {
	return qc.Now.Format("2006-01-02")
}
