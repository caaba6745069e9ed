package targets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolveRectangularAssignmentMinimizesCost(t *testing.T) {
	cost := [][]float64{
		{1, 2, 3, 4},
		{4, 1, 2, 3},
		{3, 4, 1, 2},
	}
	assignment := solveRectangularAssignment(cost)
	require.Len(t, assignment, 3)

	seen := map[int]bool{}
	total := 0.0
	for i, j := range assignment {
		require.False(t, seen[j], "column %d assigned twice", j)
		seen[j] = true
		total += cost[i][j]
	}
	require.InDelta(t, 3.0, total, 1e-9) // 1+1+1
}

func TestSolveRectangularAssignmentSquare(t *testing.T) {
	cost := [][]float64{
		{0, 1},
		{1, 0},
	}
	assignment := solveRectangularAssignment(cost)
	require.Equal(t, []int{0, 1}, assignment)
}
