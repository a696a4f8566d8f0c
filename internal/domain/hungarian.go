package domain

import "math"

// forbiddenCost stands in for edges that must never be chosen. It only
// needs to dwarf any achievable sum of real costs.
const forbiddenCost = 1e12

// solveAssignment solves max-weight bipartite assignment over a dense
// score matrix. score[i][j] < 0 marks a missing edge. Returns the
// matched column per row, -1 for unmatched.
//
// Jonker-Volgenant style shortest augmenting paths with row/column
// potentials, O(n^3). Scores are flipped into costs against the matrix
// maximum and the matrix is padded square, so unmatched rows resolve to
// padding columns. Rows are augmented in input order and columns are
// scanned in input order, which makes equal-weight solutions resolve to
// the earliest row and column.
func solveAssignment(score [][]float64) []int {
	rows := len(score)
	if rows == 0 {
		return nil
	}

	cols := len(score[0])

	n := rows
	if cols > n {
		n = cols
	}

	var maxScore float64

	for i := range score {
		for j := range score[i] {
			if score[i][j] > maxScore {
				maxScore = score[i][j]
			}
		}
	}

	// 1-indexed; index 0 is the virtual start of augmenting paths.
	costOf := func(i, j int) float64 {
		if i > rows || j > cols {
			return maxScore
		}

		s := score[i-1][j-1]
		if s < 0 {
			return forbiddenCost
		}

		return maxScore - s
	}

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	matchedRow := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		matchedRow[0] = i
		j0 := 0

		minv := make([]float64, n+1)
		used := make([]bool, n+1)

		for j := range minv {
			minv[j] = math.Inf(1)
		}

		for {
			used[j0] = true
			i0 := matchedRow[j0]
			delta := math.Inf(1)
			j1 := 0

			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}

				cur := costOf(i0, j) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}

				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			for j := 0; j <= n; j++ {
				if used[j] {
					u[matchedRow[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if matchedRow[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			matchedRow[j0] = matchedRow[j1]
			j0 = j1
		}
	}

	assigned := make([]int, rows)
	for i := range assigned {
		assigned[i] = -1
	}

	for j := 1; j <= n; j++ {
		i := matchedRow[j]
		if i == 0 || i > rows || j > cols {
			continue
		}

		// A row can end up on a forbidden edge when padding ran out;
		// treat it as unmatched.
		if score[i-1][j-1] < 0 {
			continue
		}

		assigned[i-1] = j - 1
	}

	return assigned
}
