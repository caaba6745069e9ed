package tessellation

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeGridFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.tess")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesRaDecColumns(t *testing.T) {
	path := writeGridFile(t,
		"0 0.0 0.0",
		"1 1.5707963267948966 0.0",
	)
	g, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())
	require.InDelta(t, 0.0, g.Fields()[0].RARad, 1e-12)
	require.InDelta(t, math.Pi/2, g.Fields()[1].RARad, 1e-12)
}

func TestQueryRadiusFindsNearbyFields(t *testing.T) {
	path := writeGridFile(t,
		"0 0.0 0.0",
		"1 0.01 0.0",
		"2 3.0 1.0",
	)
	g, err := Load(path)
	require.NoError(t, err)

	// Center on field 0's own coordinate.
	theta := 0.0
	phi := (0.0 + 90) * math.Pi / 180
	center := [3]float64{
		math.Sin(phi) * math.Cos(theta),
		math.Sin(phi) * math.Sin(theta),
		math.Cos(phi),
	}

	hits := g.QueryRadius(center, AngularToChordRadius(0.1))
	require.NotEmpty(t, hits)
	require.Equal(t, 0, hits[0])
}

func TestNearestFindsClosestField(t *testing.T) {
	path := writeGridFile(t,
		"0 0.0 0.0",
		"1 0.01 0.0",
		"2 3.0 1.0",
	)
	g, err := Load(path)
	require.NoError(t, err)

	theta := 0.0
	phi := (0.0 + 90) * math.Pi / 180
	center := [3]float64{
		math.Sin(phi) * math.Cos(theta),
		math.Sin(phi) * math.Sin(theta),
		math.Cos(phi),
	}

	idx, ok := g.Nearest(center)
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

func TestNearestEmptyGrid(t *testing.T) {
	g := newGrid(nil)
	_, ok := g.Nearest([3]float64{1, 0, 0})
	require.False(t, ok)
}

func TestAngularToChordRadius(t *testing.T) {
	require.InDelta(t, 0.0, AngularToChordRadius(0), 1e-12)
	require.InDelta(t, 2.0, AngularToChordRadius(math.Pi), 1e-9)
}
