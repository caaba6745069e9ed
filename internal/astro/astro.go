// Package astro implements the low-precision astronomy primitives the
// scheduler needs: twilight predicates, RA/Dec → Alt/Az conversion, and
// the spherical-to-Cartesian mapping the tessellation grid was built
// against. Grounded on scheduler_utilities.py's filter_for_visibility
// (the radec_to_altaz/is_twilight call shape) and fermi_alert.py's
// spherical_to_cartesian (the exact phi = dec + 90° convention).
package astro

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// TwilightKind selects which solar-altitude threshold counts as "night".
type TwilightKind int

const (
	Civil TwilightKind = iota
	Nautical
	Astronomical
)

// thresholdRad returns the sun-altitude cutoff, in radians, below which
// the given twilight kind is considered active (civil/nautical/
// astronomical: sun below −6°/−12°/−18°).
func (k TwilightKind) thresholdRad() float64 {
	switch k {
	case Nautical:
		return -12 * math.Pi / 180
	case Astronomical:
		return -18 * math.Pi / 180
	default:
		return -6 * math.Pi / 180
	}
}

const j2000 = 2451545.0

// JulianDate converts t to a Julian Date.
func JulianDate(t time.Time) float64 {
	return float64(t.UnixNano())/8.64e13 + 2440587.5
}

// sunAltAz computes the sun's topocentric altitude and azimuth (radians)
// for the given Julian Date and observer location, using the standard
// low-precision solar position series (ecliptic longitude truncated to
// two harmonics, obliquity of the ecliptic taken as its J2000 value plus
// a linear drift term) —
// adequate for a twilight threshold test, not for pointing.
func sunAltAz(jd, latRad, lonRad float64) (alt, az float64) {
	d := jd - j2000

	// Mean longitude and mean anomaly of the sun (degrees), low-precision
	// series (Meeus, truncated).
	g := normalizeDeg(357.529 + 0.98560028*d)
	q := normalizeDeg(280.459 + 0.98564736*d)
	gRad := g * math.Pi / 180

	eclipticLon := normalizeDeg(q + 1.915*math.Sin(gRad) + 0.020*math.Sin(2*gRad))
	obliquity := 23.439 - 0.00000036*d

	lonRadEcl := eclipticLon * math.Pi / 180
	oblRad := obliquity * math.Pi / 180

	ra := math.Atan2(math.Cos(oblRad)*math.Sin(lonRadEcl), math.Cos(lonRadEcl))
	dec := math.Asin(math.Sin(oblRad) * math.Sin(lonRadEcl))

	gmst := normalizeDeg(280.46061837 + 360.98564736629*d)
	lst := normalizeDeg(gmst+lonRad*180/math.Pi) * math.Pi / 180

	ha := lst - ra
	return raDecToAltAzSingle(ha, dec, latRad)
}

func normalizeDeg(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// raDecToAltAzSingle converts an hour angle/declination pair into
// altitude/azimuth for one observer latitude.
func raDecToAltAzSingle(ha, dec, latRad float64) (alt, az float64) {
	sinAlt := math.Sin(dec)*math.Sin(latRad) + math.Cos(dec)*math.Cos(latRad)*math.Cos(ha)
	alt = math.Asin(clamp(sinAlt, -1, 1))

	cosAz := (math.Sin(dec) - math.Sin(alt)*math.Sin(latRad)) / (math.Cos(alt) * math.Cos(latRad))
	az = math.Acos(clamp(cosAz, -1, 1))
	if math.Sin(ha) > 0 {
		az = 2*math.Pi - az
	}
	return alt, az
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsTwilight reports whether the sun's altitude at t is below the
// threshold for kind (civil/nautical/astronomical: −6°/−12°/−18°).
func IsTwilight(latRad, lonRad float64, kind TwilightKind, t time.Time) bool {
	alt, _ := sunAltAz(JulianDate(t), latRad, lonRad)
	return alt < kind.thresholdRad()
}

// RadecToAltAz converts parallel RA/Dec slices (radians) to Alt/Az
// (radians) at the given observer location and Julian Date.
func RadecToAltAz(raRad, decRad []float64, latRad, lonRad, jd float64) (altRad, azRad []float64) {
	n := len(raRad)
	altRad = make([]float64, n)
	azRad = make([]float64, n)

	gmst := normalizeDeg(280.46061837 + 360.98564736629*(jd-j2000))
	lst := normalizeDeg(gmst+lonRad*180/math.Pi) * math.Pi / 180

	for i := 0; i < n; i++ {
		ha := lst - raRad[i]
		altRad[i], azRad[i] = raDecToAltAzSingle(ha, decRad[i], latRad)
	}
	return altRad, azRad
}

// SphericalToCartesian maps (ra_deg, dec_deg) batches to unit-sphere 3D
// points using theta = ra, phi = dec + 90°. This convention must match
// exactly what the tessellation grid was built against.
func SphericalToCartesian(raDeg, decDeg []float64) []r3.Vec {
	out := make([]r3.Vec, len(raDeg))
	for i := range raDeg {
		theta := raDeg[i] * math.Pi / 180
		phi := (decDeg[i] + 90) * math.Pi / 180
		out[i] = r3.Vec{
			X: math.Sin(phi) * math.Cos(theta),
			Y: math.Sin(phi) * math.Sin(theta),
			Z: math.Cos(phi),
		}
	}
	return out
}
