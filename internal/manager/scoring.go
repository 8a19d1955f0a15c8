package manager

import (
	"farmcrew/internal/crew"
	"farmcrew/internal/workorder"
)

// Score rates a worker for an order:
//
//	(efficiency*2 + max(0.1, 2 - 0.5*workload)) * priority multiplier
func Score(efficiency float64, workload int, p workorder.Priority) float64 {
	factor := max(0.1, 2.0-0.5*float64(workload))
	return (efficiency*2.0 + factor) * p.Multiplier()
}

// pickWorker returns the best-scoring candidate. Ties keep the earliest candidate.
func pickWorker(candidates []crew.Worker, kind workorder.TaskKind, p workorder.Priority, workload func(id string) int) (crew.Worker, float64, bool) {
	var (
		best      crew.Worker
		bestScore float64
	)
	for _, w := range candidates {
		if w == nil {
			continue
		}
		s := Score(w.Efficiency(kind), workload(w.ID()), p)
		if best == nil || s > bestScore {
			best, bestScore = w, s
		}
	}
	return best, bestScore, best != nil
}
