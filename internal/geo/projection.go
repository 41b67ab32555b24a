package geo

import "math"

// usSurveyFoot is the length of one US survey foot in meters.
const usSurveyFoot = 1200.0 / 3937.0

// LambertConformal is an ellipsoidal Lambert Conformal Conic (2SP) projection.
type LambertConformal struct {
	a      float64
	e      float64
	n      float64
	f      float64
	rho0   float64
	lon0   float64
	x0     float64
	y0     float64
	toUnit float64
}

// NYLongIsland is EPSG:2263, NAD83 / New York Long Island (ftUS). City street
// datasets publish their line geometry in this system.
var NYLongIsland = NewLambertConformal(LCCParams{
	SemiMajor:     6378137.0,
	InvFlattening: 298.257222101,
	Lat1:          41.03333333333333,
	Lat2:          40.66666666666666,
	Lat0:          40.16666666666666,
	Lon0:          -74,
	FalseEasting:  300000,
	UnitMeters:    usSurveyFoot,
})

// LCCParams describes a Lambert Conformal Conic projection. FalseEasting and
// FalseNorthing are in meters; UnitMeters converts projected units to meters.
type LCCParams struct {
	SemiMajor     float64
	InvFlattening float64
	Lat1          float64
	Lat2          float64
	Lat0          float64
	Lon0          float64
	FalseEasting  float64
	FalseNorthing float64
	UnitMeters    float64
}

// NewLambertConformal precomputes the projection constants.
func NewLambertConformal(p LCCParams) *LambertConformal {
	flat := 1 / p.InvFlattening
	e := math.Sqrt(2*flat - flat*flat)

	phi1, phi2, phi0 := toRad(p.Lat1), toRad(p.Lat2), toRad(p.Lat0)
	m1, m2 := lccM(phi1, e), lccM(phi2, e)
	t1, t2, t0 := lccT(phi1, e), lccT(phi2, e), lccT(phi0, e)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))

	unit := p.UnitMeters
	if unit == 0 {
		unit = 1
	}

	return &LambertConformal{
		a:      p.SemiMajor,
		e:      e,
		n:      n,
		f:      f,
		rho0:   p.SemiMajor * f * math.Pow(t0, n),
		lon0:   toRad(p.Lon0),
		x0:     p.FalseEasting,
		y0:     p.FalseNorthing,
		toUnit: unit,
	}
}

// Inverse converts projected (x, y), in the projection's units, to a
// geographic point.
func (l *LambertConformal) Inverse(x, y float64) Point {
	dx := x*l.toUnit - l.x0
	dy := l.rho0 - (y*l.toUnit - l.y0)

	rho := math.Copysign(math.Hypot(dx, dy), l.n)
	theta := math.Atan2(dx, dy)
	if l.n < 0 {
		theta = math.Atan2(-dx, -dy)
	}

	t := math.Pow(rho/(l.a*l.f), 1/l.n)
	lon := theta/l.n + l.lon0

	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		es := l.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), l.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	return Point{Lat: toDeg(phi), Lon: toDeg(lon)}
}

// Forward converts a geographic point to projected (x, y) in the projection's
// units.
func (l *LambertConformal) Forward(p Point) (float64, float64) {
	phi := toRad(p.Lat)
	rho := l.a * l.f * math.Pow(lccT(phi, l.e), l.n)
	theta := l.n * (toRad(p.Lon) - l.lon0)

	x := l.x0 + rho*math.Sin(theta)
	y := l.y0 + l.rho0 - rho*math.Cos(theta)
	return x / l.toUnit, y / l.toUnit
}

func lccM(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-e*e*s*s)
}

func lccT(phi, e float64) float64 {
	s := e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-s)/(1+s), e/2)
}
