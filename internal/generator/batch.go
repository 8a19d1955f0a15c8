package generator

import (
	"sort"

	"farmcrew/internal/farm"
	"farmcrew/internal/workorder"
)

// Classify buckets every unoccupied, unclaimed tile by its first matching condition.
func Classify(tiles []farm.Tile, claimed map[workorder.Plot]string) map[farm.Condition][]workorder.Plot {
	out := map[farm.Condition][]workorder.Plot{}
	for _, t := range tiles {
		if t.Occupied {
			continue
		}
		if _, taken := claimed[t.Plot]; taken {
			continue
		}
		if c, ok := farm.Classify(t); ok {
			out[c] = append(out[c], t.Plot)
		}
	}
	return out
}

// Batches turns buckets into connected batches of at least minPlots plots, in
// farm.Conditions order. Within a condition, batches are ordered by their first plot.
func Batches(buckets map[farm.Condition][]workorder.Plot, minPlots int) []Batch {
	var out []Batch
	for _, c := range farm.Conditions {
		plots := buckets[c]
		if len(plots) < minPlots {
			continue
		}
		for _, comp := range Components(plots) {
			if len(comp) >= minPlots {
				out = append(out, Batch{Condition: c, Plots: comp})
			}
		}
	}
	return out
}

// Components splits plots into 4-connected groups. Seeds are taken in row-major order and
// each group lists its plots in flood-fill visit order.
func Components(plots []workorder.Plot) [][]workorder.Plot {
	sorted := append([]workorder.Plot(nil), plots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	member := make(map[workorder.Plot]bool, len(sorted))
	for _, p := range sorted {
		member[p] = true
	}
	seen := make(map[workorder.Plot]bool, len(sorted))
	var out [][]workorder.Plot
	for _, seed := range sorted {
		if seen[seed] {
			continue
		}
		seen[seed] = true
		comp := []workorder.Plot{seed}
		for i := 0; i < len(comp); i++ {
			for _, n := range comp[i].Neighbors4() {
				if member[n] && !seen[n] {
					seen[n] = true
					comp = append(comp, n)
				}
			}
		}
		out = append(out, comp)
	}
	return out
}
