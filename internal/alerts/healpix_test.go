package alerts

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUniqToLevelIpixLevelZero(t *testing.T) {
	for ipix := int64(0); ipix < 4; ipix++ {
		uniq := 4 + ipix
		level, gotIpix := uniqToLevelIpix(uniq)
		require.Equal(t, 0, level)
		require.Equal(t, ipix, gotIpix)
	}
}

func TestUniqToLevelIpixLevelOne(t *testing.T) {
	// level 1 starts at uniq=16 (4*4^1), covering ipix 0..47 (12*2^2 pixels).
	level, ipix := uniqToLevelIpix(16)
	require.Equal(t, 1, level)
	require.Equal(t, int64(0), ipix)
}

func TestLevelToNside(t *testing.T) {
	require.Equal(t, int64(1), levelToNside(0))
	require.Equal(t, int64(2), levelToNside(1))
	require.Equal(t, int64(4), levelToNside(2))
}

func TestNsideToPixelAreaMatchesFullSphere(t *testing.T) {
	nside := int64(4)
	area := nsideToPixelArea(nside)
	npix := 12 * nside * nside
	require.InDelta(t, 4*math.Pi, area*float64(npix), 1e-9)
}

func TestPix2AngNestedWithinRange(t *testing.T) {
	nside := int64(4)
	npix := 12 * nside * nside
	for ipix := int64(0); ipix < npix; ipix++ {
		theta, phi := pix2angNested(nside, ipix)
		require.GreaterOrEqual(t, theta, 0.0)
		require.LessOrEqual(t, theta, math.Pi)
		require.GreaterOrEqual(t, phi, 0.0)
		require.Less(t, phi, 2*math.Pi+1e-9)
	}
}

func TestHealpixToLonLatDistinctPixels(t *testing.T) {
	lon0, lat0 := healpixToLonLat(0, 4)
	lon1, lat1 := healpixToLonLat(1, 4)
	require.False(t, lon0 == lon1 && lat0 == lat1)
}
