package manager

import (
	"math"
	"testing"

	"farmcrew/internal/crew"
	"farmcrew/internal/skills"
	"farmcrew/internal/workorder"
)

func weightsOf(w map[string]float64) func(string) float64 {
	return func(id string) float64 { return w[id] }
}

func TestApportionCounts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		n       int
		workers []string
		weights map[string]float64
		want    []int
	}{
		{name: "one to two", n: 9, workers: []string{"a", "b"}, weights: map[string]float64{"a": 1, "b": 2}, want: []int{3, 6}},
		{name: "equal thirds tie to first", n: 10, workers: []string{"a", "b", "c"}, weights: map[string]float64{"a": 1, "b": 1, "c": 1}, want: []int{4, 3, 3}},
		{name: "non-positive weights count as one", n: 7, workers: []string{"a", "b"}, weights: map[string]float64{"a": 0, "b": -3}, want: []int{4, 3}},
		{name: "largest remainder wins", n: 5, workers: []string{"a", "b"}, weights: map[string]float64{"a": 1, "b": 4}, want: []int{1, 4}},
		{name: "fewer plots than workers", n: 1, workers: []string{"a", "b", "c"}, weights: map[string]float64{"a": 1, "b": 3, "c": 1}, want: []int{0, 1, 0}},
		{name: "no plots", n: 0, workers: []string{"a"}, weights: nil, want: []int{0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := apportionCounts(tt.n, tt.workers, weightsOf(tt.weights))
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("apportionCounts() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestApportionConservesPlots(t *testing.T) {
	t.Parallel()
	workers := []string{"a", "b", "c"}
	w := weightsOf(map[string]float64{"a": 0.3, "b": 1.7, "c": 2.2})
	for n := 0; n <= 60; n++ {
		plots := make([]workorder.Plot, n)
		for i := range plots {
			plots[i] = workorder.Plot{X: i % 8, Y: i / 8}
		}
		got := Apportion(plots, workers, w)
		next := 0
		for _, id := range workers {
			for _, p := range got[id] {
				if p != plots[next] {
					t.Fatalf("n=%d: %s share is not contiguous at %d", n, id, next)
				}
				next++
			}
			ideal := float64(n) * w(id) / 4.2
			if d := math.Abs(float64(len(got[id])) - ideal); d >= 1 {
				t.Fatalf("n=%d: %s got %d, ideal %.2f", n, id, len(got[id]), ideal)
			}
		}
		if next != n {
			t.Fatalf("n=%d: allocated %d", n, next)
		}
	}
}

func TestApportionIsDeterministic(t *testing.T) {
	t.Parallel()
	plots := make([]workorder.Plot, 17)
	for i := range plots {
		plots[i] = workorder.Plot{X: i}
	}
	w := weightsOf(map[string]float64{"x": 1.25, "y": 0.75, "z": 1})
	first := Apportion(plots, []string{"x", "y", "z"}, w)
	for i := 0; i < 20; i++ {
		again := Apportion(plots, []string{"x", "y", "z"}, w)
		for id := range first {
			if len(first[id]) != len(again[id]) || (len(first[id]) > 0 && first[id][0] != again[id][0]) {
				t.Fatalf("run %d differs for %s", i, id)
			}
		}
	}
}

func TestScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		eff      float64
		workload int
		p        workorder.Priority
		want     float64
	}{
		{eff: 1.25, workload: 0, p: workorder.Normal, want: 4.5},
		{eff: 0.5, workload: 0, p: workorder.Normal, want: 3.0},
		{eff: 1.0, workload: 2, p: workorder.High, want: 4.5},
		{eff: 1.0, workload: 10, p: workorder.Normal, want: 2.1},
		{eff: 1.0, workload: 0, p: workorder.Critical, want: 8.0},
	}
	for _, tt := range tests {
		if got := Score(tt.eff, tt.workload, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("Score(%v,%d,%v) = %v, want %v", tt.eff, tt.workload, tt.p, got, tt.want)
		}
	}
}

func TestPickWorkerTieKeepsFirst(t *testing.T) {
	t.Parallel()
	ws := []crew.Worker{
		crew.NewMember("a", "a", skills.Profile{}),
		crew.NewMember("b", "b", skills.Profile{}),
	}
	w, _, ok := pickWorker(ws, workorder.Watering, workorder.Normal, func(string) int { return 0 })
	if !ok || w.ID() != "a" {
		t.Fatalf("pickWorker = %v, want a", w)
	}
	if _, _, ok := pickWorker(nil, workorder.Watering, workorder.Normal, func(string) int { return 0 }); ok {
		t.Fatal("expected no worker from empty candidates")
	}
}

func TestEfficiencyRating(t *testing.T) {
	t.Parallel()
	if got := EfficiencyRating(10, 0); got != 2.0 {
		t.Fatalf("zero actual = %v, want 2", got)
	}
	if got := EfficiencyRating(10, 1000); got != 0.1 {
		t.Fatalf("slow = %v, want 0.1", got)
	}
	if got := EfficiencyRating(10, 20); got != 0.5 {
		t.Fatalf("half = %v, want 0.5", got)
	}
}
