package geo

import (
	"math"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// ParseLineString parses a WKT LINESTRING in EPSG:2263 feet and returns its
// vertices as geographic points. Anything that is not a parseable line string
// yields nil.
func ParseLineString(text string) []Point {
	return ParseLineStringWith(text, NYLongIsland)
}

// ParseLineStringWith is ParseLineString with an explicit source projection.
func ParseLineStringWith(text string, proj *LambertConformal) []Point {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	g, err := wkt.Unmarshal(strings.ToUpper(text))
	if err != nil {
		return nil
	}
	line, ok := g.(*geom.LineString)
	if !ok {
		return nil
	}

	coords := line.Coords()
	points := make([]Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 || !finite(c.X()) || !finite(c.Y()) {
			continue
		}
		p := proj.Inverse(c.X(), c.Y())
		if !p.Valid() {
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil
	}
	return points
}

// DistanceToPolyline returns the shortest distance in meters from (lat, lon)
// to the polyline through vertices. Segments are measured in a local
// equirectangular frame centered on the query latitude. No vertices yields
// +Inf; a single vertex falls back to Haversine.
func DistanceToPolyline(lat, lon float64, vertices []Point) float64 {
	switch len(vertices) {
	case 0:
		return math.Inf(1)
	case 1:
		return Haversine(lat, lon, vertices[0].Lat, vertices[0].Lon)
	}

	px, py := localMeters(lat, lon, lat)
	best := math.Inf(1)
	for i := 0; i < len(vertices)-1; i++ {
		ax, ay := localMeters(vertices[i].Lat, vertices[i].Lon, lat)
		bx, by := localMeters(vertices[i+1].Lat, vertices[i+1].Lon, lat)
		if d := segmentDistance(px, py, ax, ay, bx, by); d < best {
			best = d
		}
	}
	return best
}

const webMercatorRadius = 6378137.0

func localMeters(lat, lon, lat0 float64) (float64, float64) {
	x := toRad(lon) * webMercatorRadius * math.Cos(toRad(lat0))
	y := toRad(lat) * webMercatorRadius
	return x, y
}

func segmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	if dx == 0 && dy == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
