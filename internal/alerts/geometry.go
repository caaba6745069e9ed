package alerts

import "math"

// sphericalUnitVector converts (lon, lat) in radians to a unit-sphere
// Cartesian coordinate using the same theta=lon, phi=lat+90deg
// convention as internal/astro.SphericalToCartesian and
// internal/tessellation's grid construction, so results land in the
// same coordinate frame as the tessellation grid's nearest-neighbor
// index.
func sphericalUnitVector(lonRad, latRad float64) [3]float64 {
	theta := lonRad
	phi := latRad + math.Pi/2
	return [3]float64{
		math.Sin(phi) * math.Cos(theta),
		math.Sin(phi) * math.Sin(theta),
		math.Cos(phi),
	}
}
