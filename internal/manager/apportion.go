package manager

import (
	"math"
	"sort"

	"farmcrew/internal/workorder"
)

// Apportion splits plots across workers by weight with the largest-remainder method.
//
// Each worker gets floor(n*w/W) plots; the leftover plots go one each to the largest
// fractional remainders, ties resolved by position in workers. Shares are handed out as
// contiguous runs of plots, in worker order, so a worker's area stays together.
// Non-positive weights count as 1.
func Apportion(plots []workorder.Plot, workers []string, weight func(id string) float64) map[string][]workorder.Plot {
	out := make(map[string][]workorder.Plot, len(workers))
	if len(workers) == 0 {
		return out
	}
	counts := apportionCounts(len(plots), workers, weight)
	next := 0
	for i, id := range workers {
		out[id] = append([]workorder.Plot(nil), plots[next:next+counts[i]]...)
		next += counts[i]
	}
	return out
}

func apportionCounts(n int, workers []string, weight func(id string) float64) []int {
	ws := make([]float64, len(workers))
	total := 0.0
	for i, id := range workers {
		w := weight(id)
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			w = 1
		}
		ws[i] = w
		total += w
	}

	const eps = 1e-9
	counts := make([]int, len(workers))
	rems := make([]float64, len(workers))
	assigned := 0
	for i, w := range ws {
		q := float64(n) * w / total
		counts[i] = int(math.Floor(q + eps))
		rems[i] = q - float64(counts[i])
		assigned += counts[i]
	}

	order := make([]int, len(workers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rems[order[a]] > rems[order[b]]+eps
	})
	for k := 0; assigned < n; k++ {
		counts[order[k%len(order)]]++
		assigned++
	}
	for assigned > n {
		// Only reachable through eps rounding; take back from the smallest remainder.
		for k := len(order) - 1; k >= 0 && assigned > n; k-- {
			if counts[order[k]] > 0 {
				counts[order[k]]--
				assigned--
			}
		}
	}
	return counts
}
