package astro

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsTwilightMidnightVsNoon(t *testing.T) {
	latRad := 31.68 * math.Pi / 180
	lonRad := -110.88 * math.Pi / 180

	midnight := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC) // ~local midnight MST
	noon := time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC)    // ~local noon MST

	require.True(t, IsTwilight(latRad, lonRad, Astronomical, midnight))
	require.False(t, IsTwilight(latRad, lonRad, Astronomical, noon))
}

func TestIsTwilightThresholdsOrdered(t *testing.T) {
	latRad := 31.68 * math.Pi / 180
	lonRad := -110.88 * math.Pi / 180
	dusk := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	// Astronomical twilight (sun below -18) is a strict subset of civil
	// twilight (sun below -6): whenever astronomical holds, civil holds.
	if IsTwilight(latRad, lonRad, Astronomical, dusk) {
		require.True(t, IsTwilight(latRad, lonRad, Civil, dusk))
	}
}

func TestSphericalToCartesianConvention(t *testing.T) {
	// ra=0, dec=0 -> theta=0, phi=90deg -> (x,y,z) = (1,0,0)
	pts := SphericalToCartesian([]float64{0}, []float64{0})
	require.InDelta(t, 1.0, pts[0].X, 1e-9)
	require.InDelta(t, 0.0, pts[0].Y, 1e-9)
	require.InDelta(t, 0.0, pts[0].Z, 1e-9)

	// ra=0, dec=90 -> phi=180deg -> (x,y,z) = (0,0,-1)
	pts = SphericalToCartesian([]float64{0}, []float64{90})
	require.InDelta(t, 0.0, pts[0].X, 1e-9)
	require.InDelta(t, 0.0, pts[0].Y, 1e-9)
	require.InDelta(t, -1.0, pts[0].Z, 1e-9)
}

func TestRadecToAltAzLength(t *testing.T) {
	ra := []float64{0, 1, 2}
	dec := []float64{0.1, 0.2, 0.3}
	alt, az := RadecToAltAz(ra, dec, 0.5, -1.9, JulianDate(time.Now()))
	require.Len(t, alt, 3)
	require.Len(t, az, 3)
}
