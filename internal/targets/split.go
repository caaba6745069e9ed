package targets

import (
	"math"

	"github.com/stpaulobs/turbosched/internal/astro"
	"gonum.org/v1/gonum/floats"
)

// SeparateEvenly round-robins targets across n sets by index: i -> i mod
// n. Used for event targets so sky coverage degrades gracefully if one
// telescope goes down. Grounded on separate_targets_evenly.
func SeparateEvenly(set TargetSet, n int) []TargetSet {
	out := make([]TargetSet, n)
	for i, t := range set {
		out[i%n] = append(out[i%n], t)
	}
	return out
}

// SeparateByCluster lifts targets to 3D unit-sphere points, runs k-means
// with k=n, then enforces equal-sized clusters via a rectangular
// linear-sum assignment between points and n*ceil(|T|/n) virtual
// center-slots. Used for the host schedule so each telescope slews
// within a compact region. Grounded on separate_targets_into_clusters /
// _get_even_clusters.
func SeparateByCluster(set TargetSet, n int) []TargetSet {
	out := make([]TargetSet, n)
	if len(set) == 0 {
		return out
	}
	if n == 1 {
		out[0] = set.Clone()
		return out
	}

	raDeg := make([]float64, len(set))
	decDeg := make([]float64, len(set))
	for i, t := range set {
		raDeg[i] = t.RADeg
		decDeg[i] = t.DecDeg
	}
	points := astro.SphericalToCartesian(raDeg, decDeg)
	coords := make([][3]float64, len(points))
	for i, p := range points {
		coords[i] = [3]float64{p.X, p.Y, p.Z}
	}

	centers := kMeansCenters(coords, n, 50)

	ceilSize := (len(set) + n - 1) / n
	slotCount := n * ceilSize

	cost := make([][]float64, len(set))
	for i, p := range coords {
		row := make([]float64, slotCount)
		for slot := 0; slot < slotCount; slot++ {
			c := centers[slot/ceilSize]
			row[slot] = squaredDist(p, c)
		}
		cost[i] = row
	}

	assignment := solveRectangularAssignment(cost)
	for i, slot := range assignment {
		cluster := slot / ceilSize
		out[cluster] = append(out[cluster], set[i])
	}
	return out
}

func squaredDist(a, b [3]float64) float64 {
	av := []float64{a[0], a[1], a[2]}
	bv := []float64{b[0], b[1], b[2]}
	d := floats.Distance(av, bv, 2)
	return d * d
}

// kMeansCenters runs a fixed number of Lloyd's-algorithm iterations over
// points, seeded by taking every (len/k)-th point, and returns k center
// coordinates.
func kMeansCenters(points [][3]float64, k, iterations int) [][3]float64 {
	centers := make([][3]float64, k)
	for i := 0; i < k; i++ {
		centers[i] = points[(i*len(points))/k]
	}

	assign := make([]int, len(points))
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, center := range centers {
				d := squaredDist(p, center)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assign[i]
			sums[c][0] += p[0]
			sums[c][1] += p[1]
			sums[c][2] += p[2]
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			centers[c] = [3]float64{
				sums[c][0] / float64(counts[c]),
				sums[c][1] / float64(counts[c]),
				sums[c][2] / float64(counts[c]),
			}
		}
		if !changed && iter > 0 {
			break
		}
	}
	return centers
}
