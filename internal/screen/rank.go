// Package screen implements the factor screening pipeline: per-factor
// ranking across a universe, threshold filtering, and result assembly.
package screen

import (
	"math"
	"sort"
)

// ZScores standardizes values across the universe, ignoring missing entries.
// Missing positions get NaN. With fewer than two present values, or zero
// variance, all present positions get 0 so ranking falls back to universe
// order instead of dividing by zero.
func ZScores(values []float64, missing []bool) []float64 {
	z := make([]float64, len(values))

	var sum float64
	var n int
	for i, v := range values {
		if missing[i] {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		for i := range z {
			z[i] = math.NaN()
		}
		return z
	}
	mean := sum / float64(n)

	var ss float64
	for i, v := range values {
		if missing[i] {
			continue
		}
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(n))

	for i, v := range values {
		if missing[i] {
			z[i] = math.NaN()
			continue
		}
		if std == 0 {
			z[i] = 0
			continue
		}
		z[i] = (v - mean) / std
	}
	return z
}

// Rank assigns ranks 1..N by ascending standardized value (rank 1 = lowest).
// Ties keep universe order, so equal values never produce equal ranks and
// the assignment is a bijection onto {1..N}. Missing values rank after all
// present values, in universe order, so they can never pass a threshold
// that excludes anything.
func Rank(values []float64, missing []bool) []int {
	n := len(values)
	z := ZScores(values, missing)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if missing[ia] != missing[ib] {
			return !missing[ia]
		}
		if missing[ia] {
			return false // both missing: keep universe order
		}
		return z[ia] < z[ib]
	})

	ranks := make([]int, n)
	for pos, idx := range order {
		ranks[idx] = pos + 1
	}
	return ranks
}

// ThresholdRank returns the rank cutoff for keeping the bottom p fraction
// of the universe by rank: floor(p * n). p=1 keeps everything, p=0 nothing.
func ThresholdRank(p float64, n int) int {
	return int(math.Floor(p * float64(n)))
}

// Filter combines per-factor rank vectors with AND semantics: position i
// passes iff ranks[f][i] <= threshold for every factor f.
func Filter(ranks [][]int, threshold int) []bool {
	if len(ranks) == 0 {
		return nil
	}
	passes := make([]bool, len(ranks[0]))
	for i := range passes {
		passes[i] = true
		for _, factorRanks := range ranks {
			if factorRanks[i] > threshold {
				passes[i] = false
				break
			}
		}
	}
	return passes
}
