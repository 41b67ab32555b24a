// Package geo holds the spherical and planar helpers used to match dataset
// rows to a query point.
package geo

import (
	"fmt"
	"math"
	"strconv"
)

// EarthRadiusM is the mean earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// metersPerDegreeLat approximates one degree of latitude.
const metersPerDegreeLat = 111320.0

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether p is a finite coordinate inside the WGS84 range.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		!math.IsInf(p.Lat, 0) && !math.IsInf(p.Lon, 0) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Pair returns the point as a [lat, lon] array.
func (p Point) Pair() [2]float64 {
	return [2]float64{p.Lat, p.Lon}
}

// Box is an axis-aligned lat/lon rectangle.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether p falls inside the box, edges included.
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// Distance is Haversine for two Points.
func Distance(a, b Point) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// BoundingBox approximates a circle of radiusM around (lat, lon) as a
// rectangle. The box over-covers the circle; callers must re-check with
// Haversine.
func BoundingBox(lat, lon, radiusM float64) Box {
	latDelta := radiusM / metersPerDegreeLat
	lonDelta := radiusM / (metersPerDegreeLat * math.Cos(toRad(lat)))
	return Box{
		MinLat: lat - latDelta,
		MaxLat: lat + latDelta,
		MinLon: lon - lonDelta,
		MaxLon: lon + lonDelta,
	}
}

// BlockKey returns the cache partition key for a location: the parcel id when
// known, else the coordinate rounded to 5 decimal places.
func BlockKey(lat, lon float64, bbl string) string {
	if bbl != "" {
		return "bbl:" + bbl
	}
	return fmt.Sprintf("grid:%.5f:%.5f", lat, lon)
}

// Round5 rounds a coordinate to 5 decimal places (about one meter).
func Round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// PointWKT renders a point as a WKT literal with longitude first.
func PointWKT(lon, lat float64) string {
	return "POINT (" + FormatCoord(lon) + " " + FormatCoord(lat) + ")"
}

// FormatCoord renders a coordinate with the shortest exact representation.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
