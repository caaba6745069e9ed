// Package tessellation loads the fixed field-center grid and answers
// radius queries against it, grounded on lvc_alert.py/fermi_alert.py's
// sklearn BallTree usage (query_radius(..., sort_results=True,
// return_distance=True)).
package tessellation

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Field is one tessellation grid field center, in radians.
type Field struct {
	Index  int
	RARad  float64
	DecRad float64
}

// Grid is the fixed set of field centers, indexed for nearest-neighbor
// radius queries over their unit-sphere Cartesian coordinates.
type Grid struct {
	fields []Field
	tree   *kdtree.Tree
	coords [][3]float64
	// indexByCoord maps a field's exact Cartesian coordinate back to its
	// index in fields, since the tree's Keeper only hands back the
	// Comparable it stored, not the original index.
	indexByCoord map[[3]float64]int
}

// Load reads a tessellation file: whitespace-separated records, one
// field per line, with (ra_rad, dec_rad) at zero-based columns 1 and 2.
func Load(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fields []Field
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		cols := strings.Fields(text)
		if len(cols) < 3 {
			return nil, fmt.Errorf("tessellation: %s:%d: expected at least 3 columns, got %d", path, line, len(cols))
		}
		ra, err := strconv.ParseFloat(cols[1], 64)
		if err != nil {
			return nil, fmt.Errorf("tessellation: %s:%d: ra: %w", path, line, err)
		}
		dec, err := strconv.ParseFloat(cols[2], 64)
		if err != nil {
			return nil, fmt.Errorf("tessellation: %s:%d: dec: %w", path, line, err)
		}
		fields = append(fields, Field{Index: len(fields), RARad: ra, DecRad: dec})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return newGrid(fields), nil
}

func newGrid(fields []Field) *Grid {
	raDeg := make([]float64, len(fields))
	decDeg := make([]float64, len(fields))
	for i, f := range fields {
		raDeg[i] = f.RARad * 180 / math.Pi
		decDeg[i] = f.DecRad * 180 / math.Pi
	}

	kdpoints := make(kdtree.Points, len(fields))
	coords := make([][3]float64, len(fields))
	indexByCoord := make(map[[3]float64]int, len(fields))
	for i := range fields {
		theta := raDeg[i] * math.Pi / 180
		phi := (decDeg[i] + 90) * math.Pi / 180
		xyz := kdtree.Point{
			math.Sin(phi) * math.Cos(theta),
			math.Sin(phi) * math.Sin(theta),
			math.Cos(phi),
		}
		kdpoints[i] = xyz
		coords[i] = [3]float64{xyz[0], xyz[1], xyz[2]}
		indexByCoord[coords[i]] = i
	}

	g := &Grid{fields: fields, coords: coords, indexByCoord: indexByCoord}
	if len(fields) > 0 {
		g.tree = kdtree.New(kdpoints, true)
	}
	return g
}

// Fields returns the full loaded field list.
func (g *Grid) Fields() []Field { return g.fields }

// Len reports how many fields the grid holds.
func (g *Grid) Len() int { return len(g.fields) }

// AngularToChordRadius converts an angular error (radians) to the
// equivalent chord radius on the unit sphere.
func AngularToChordRadius(angularRad float64) float64 {
	return 2 * math.Sin(angularRad/2)
}

// QueryRadius returns the indices of grid fields whose Cartesian
// distance to center is <= chordRadius, sorted by ascending distance.
func (g *Grid) QueryRadius(center [3]float64, chordRadius float64) []int {
	if g.tree == nil {
		return nil
	}

	query := kdtree.Point{center[0], center[1], center[2]}
	keeper := kdtree.NewDistKeeper(chordRadius * chordRadius)
	g.tree.NearestSet(keeper, query)

	type hit struct {
		index int
		dist  float64
	}
	hits := make([]hit, 0, len(keeper.Heap))
	for _, cd := range keeper.Heap {
		p := cd.Comparable.(kdtree.Point)
		idx, ok := g.indexByCoord[[3]float64{p[0], p[1], p[2]}]
		if !ok {
			continue
		}
		hits = append(hits, hit{index: idx, dist: cd.Distance})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.index
	}
	return out
}

// Nearest returns the index of the single closest field to center, by
// squared Euclidean distance over the unit-sphere Cartesian coordinates.
// Grounded on tesselation_generator.find_tess_RASA11's nearest-field
// lookup (a per-pixel argmin over the same fixed grid); implemented as
// a plain linear scan rather than a tree query since the grid is at
// most a few thousand fields and lookups happen per HEALPix pixel of a
// single alert's tiling, not in a hot loop.
func (g *Grid) Nearest(center [3]float64) (int, bool) {
	if len(g.coords) == 0 {
		return 0, false
	}

	best := 0
	bestDist := squaredDist(g.coords[0], center)
	for i := 1; i < len(g.coords); i++ {
		d := squaredDist(g.coords[i], center)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, true
}

func squaredDist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}
