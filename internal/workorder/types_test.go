package workorder

import (
	"strings"
	"testing"
	"time"
)

func TestStatusDerivation(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		order WorkOrder
		want  Status
	}{
		{name: "pending", order: WorkOrder{}, want: StatusPending},
		{name: "assigned", order: WorkOrder{AssignedWorkers: []string{"w1"}}, want: StatusAssigned},
		{name: "in progress", order: WorkOrder{AssignedWorkers: []string{"w1"}, StartedAt: now}, want: StatusInProgress},
		{name: "completed", order: WorkOrder{StartedAt: now, CompletedAt: now}, want: StatusCompleted},
		{name: "cancelled wins", order: WorkOrder{CompletedAt: now, CancelledAt: now}, want: StatusCancelled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.Status(); got != tt.want {
				t.Fatalf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseTaskKind(t *testing.T) {
	t.Parallel()
	k, err := ParseTaskKind(" Pest-Control ")
	if err != nil {
		t.Fatalf("ParseTaskKind error: %v", err)
	}
	if k != PestControl {
		t.Fatalf("kind = %s, want %s", k, PestControl)
	}
	if _, err := ParseTaskKind("juggling"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPriorityMultiplier(t *testing.T) {
	t.Parallel()
	want := map[Priority]float64{Critical: 2.0, High: 1.5, Normal: 1.0, Low: 0.8, Minimal: 0.6}
	for p, m := range want {
		if got := p.Multiplier(); got != m {
			t.Fatalf("%s multiplier = %v, want %v", p, got, m)
		}
	}
}

func TestEstimateDuration(t *testing.T) {
	t.Parallel()
	if got := EstimateDuration(Harvesting, 4, 1.0); got != 12*time.Minute {
		t.Fatalf("estimate = %v, want 12m", got)
	}
	if got := EstimateDuration(Harvesting, 4, 1.5); got != 8*time.Minute {
		t.Fatalf("estimate with master efficiency = %v, want 8m", got)
	}
	if got := EstimateDuration(Watering, 0, 1.0); got != 0 {
		t.Fatalf("estimate for no plots = %v, want 0", got)
	}
}

func TestPlotsForDistributedOrder(t *testing.T) {
	t.Parallel()
	o := WorkOrder{
		Plots:           []Plot{{0, 0}, {1, 0}, {2, 0}},
		AssignedWorkers: []string{"a", "b"},
		Allocations:     map[string][]Plot{"a": {{0, 0}}, "b": {{1, 0}, {2, 0}}},
	}
	if got := o.PlotsFor("b"); len(got) != 2 {
		t.Fatalf("PlotsFor(b) = %v, want 2 plots", got)
	}
	single := WorkOrder{Plots: o.Plots, AssignedWorkers: []string{"a"}}
	if got := single.PlotsFor("a"); len(got) != 3 {
		t.Fatalf("PlotsFor(a) on single-worker order = %v, want all plots", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	o := WorkOrder{Plots: []Plot{{1, 1}}, Allocations: map[string][]Plot{"a": {{1, 1}}}}
	cp := o.Clone()
	cp.Plots[0].X = 9
	cp.Allocations["a"][0].X = 9
	if o.Plots[0].X != 1 || o.Allocations["a"][0].X != 1 {
		t.Fatal("Clone shares backing storage with the original")
	}
}

func TestNewIDSortsByTime(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewID(t0)
	b := NewID(t0.Add(time.Second))
	if !strings.HasPrefix(a, "wo_") {
		t.Fatalf("id %q missing prefix", a)
	}
	if !(a < b) {
		t.Fatalf("ids not time ordered: %s >= %s", a, b)
	}
}
