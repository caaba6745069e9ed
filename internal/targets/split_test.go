package targets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleSet(n int) TargetSet {
	set := make(TargetSet, n)
	for i := 0; i < n; i++ {
		set[i] = Target{Name: "t", RADeg: float64(i), DecDeg: 0}
	}
	return set
}

func TestSeparateEvenlyRoundRobin(t *testing.T) {
	set := sampleSet(7)
	out := SeparateEvenly(set, 3)
	require.Len(t, out, 3)

	total := 0
	for _, s := range out {
		total += len(s)
	}
	require.Equal(t, 7, total)

	// sizes differ by at most one (7 = 3+2+2)
	for _, s := range out {
		require.GreaterOrEqual(t, len(s), 2)
		require.LessOrEqual(t, len(s), 3)
	}
}

func TestSeparateEvenlySingleTelescope(t *testing.T) {
	set := sampleSet(5)
	out := SeparateEvenly(set, 1)
	require.Len(t, out, 1)
	require.Equal(t, set, out[0])
}

func TestSeparateByClusterSingleTelescope(t *testing.T) {
	set := sampleSet(5)
	out := SeparateByCluster(set, 1)
	require.Len(t, out, 1)
	require.ElementsMatch(t, set, out[0])
}

func TestSeparateByClusterEqualSizes(t *testing.T) {
	// 8 targets spread in RA, clustered spatially at two declinations.
	set := TargetSet{}
	for i := 0; i < 4; i++ {
		set = append(set, Target{Name: "n", RADeg: float64(i) * 2, DecDeg: 40})
	}
	for i := 0; i < 4; i++ {
		set = append(set, Target{Name: "s", RADeg: float64(i)*2 + 180, DecDeg: -40})
	}

	out := SeparateByCluster(set, 2)
	require.Len(t, out, 2)

	total := 0
	for _, s := range out {
		total += len(s)
		require.GreaterOrEqual(t, len(s), 3)
		require.LessOrEqual(t, len(s), 5)
	}
	require.Equal(t, 8, total)
}

func TestMinAltitudeRadFloorsAtTenDegrees(t *testing.T) {
	// airmass=1 -> arccos(1)=0 -> pi/2, which exceeds the 10deg floor.
	require.InDelta(t, 1.5707963267948966, MinAltitudeRad(1.0), 1e-9)

	// huge airmass would push min altitude below 10deg, floor applies.
	require.InDelta(t, 10*3.141592653589793/180, MinAltitudeRad(1000.0), 1e-9)
}
