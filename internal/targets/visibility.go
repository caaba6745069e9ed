package targets

import (
	"math"
	"time"

	"github.com/stpaulobs/turbosched/internal/astro"
)

// DefaultMaxAirmass is the visibility filter's default airmass ceiling.
const DefaultMaxAirmass = 2.0

// MinAltitudeRad computes the minimum altitude, in radians, that still
// satisfies maxAirmass: max(π/2 − arccos(1/maxAirmass), 10°).
func MinAltitudeRad(maxAirmass float64) float64 {
	minAlt := math.Pi/2 - math.Acos(1/maxAirmass)
	tenDeg := 10 * math.Pi / 180
	if minAlt < tenDeg {
		return tenDeg
	}
	return minAlt
}

// FilterVisibility returns the subset of set visible above the airmass
// limit, at the given observatory location and wall-clock instant.
// Purely functional: returns empty (not nil-with-side-effects) when
// twilight does not hold for kind. Grounded on
// scheduler_utilities.py's filter_for_visibility.
func FilterVisibility(set TargetSet, latRad, lonRad float64, kind astro.TwilightKind, maxAirmass float64, now time.Time) TargetSet {
	if !astro.IsTwilight(latRad, lonRad, kind, now) {
		return TargetSet{}
	}

	raRad := make([]float64, len(set))
	decRad := make([]float64, len(set))
	for i, t := range set {
		raRad[i] = t.RADeg * math.Pi / 180
		decRad[i] = t.DecDeg * math.Pi / 180
	}

	jd := astro.JulianDate(now)
	alt, _ := astro.RadecToAltAz(raRad, decRad, latRad, lonRad, jd)
	minAlt := MinAltitudeRad(maxAirmass)

	out := make(TargetSet, 0, len(set))
	for i, t := range set {
		if alt[i] >= minAlt {
			out = append(out, t)
		}
	}
	return out
}
