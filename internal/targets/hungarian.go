package targets

import "math"

// solveRectangularAssignment solves the assignment problem for a cost
// matrix with n rows and m columns, n <= m, returning for each row the
// column index it is assigned to, minimizing total cost. Ports the
// classic O(n^2*m) shortest-augmenting-path Hungarian algorithm; no
// pack example or gonum subpackage ships a linear-sum-assignment
// solver (grep across the retrieval pack found none), so this is
// hand-written rather than grounded on a library — see DESIGN.md.
func solveRectangularAssignment(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])

	const inf = math.MaxFloat64 / 2

	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1) // p[j] = 1-based row assigned to column j, 0 = unassigned
	way := make([]int, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, m+1)
		used := make([]bool, m+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
			if j0 == 0 {
				break
			}
		}
	}

	assignment := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			assignment[p[j]-1] = j - 1
		}
	}
	return assignment
}
