package manager

import (
	"time"

	"farmcrew/internal/workorder"
)

type Metrics struct {
	Created           uint64 `json:"created"`
	Completed         uint64 `json:"completed"`
	Cancelled         uint64 `json:"cancelled"`
	RejectedCapacity  uint64 `json:"rejected_capacity"`
	RejectedConflict  uint64 `json:"rejected_conflict"`
	ConflictsDetected uint64 `json:"conflicts_detected"`
	AutoAssigned      uint64 `json:"auto_assigned"`
	Escalations       uint64 `json:"escalations"`
	Purged            uint64 `json:"purged"`

	AvgCompletionTime time.Duration `json:"avg_completion_time"`
	AvgEfficiency     float64       `json:"avg_efficiency"`

	Active     int `json:"active"`
	Unassigned int `json:"unassigned"`
}

// foldCompletion updates the running averages with one completed order.
func (m *Metrics) foldCompletion(elapsed time.Duration, rating float64) {
	m.Completed++
	n := float64(m.Completed)
	m.AvgCompletionTime = time.Duration((float64(m.AvgCompletionTime)*(n-1) + float64(elapsed)) / n)
	m.AvgEfficiency = (m.AvgEfficiency*(n-1) + rating) / n
}

// EfficiencyRating is estimated/actual clamped to [0.1, 2.0]; a zero actual rates 2.0.
func EfficiencyRating(estimated, actual time.Duration) float64 {
	if actual <= 0 {
		return 2.0
	}
	return min(2.0, max(0.1, float64(estimated)/float64(actual)))
}

// Snapshot is an immutable, consistent view of the manager, republished after every
// mutation. Readers never block the actor.
type Snapshot struct {
	Taken   time.Time             `json:"taken"`
	Active  []workorder.WorkOrder `json:"active"`
	History []workorder.WorkOrder `json:"history"`
	Metrics Metrics               `json:"metrics"`

	claims      map[workorder.Plot]string
	assignments map[string][]string
	index       map[string]int // id -> position in Active
	histIndex   map[string]int
}

func (r *registry) snapshot(now time.Time) *Snapshot {
	s := &Snapshot{
		Taken:       now,
		Active:      make([]workorder.WorkOrder, 0, len(r.activeIDs)),
		History:     make([]workorder.WorkOrder, 0, len(r.closed)),
		Metrics:     r.metrics,
		claims:      make(map[workorder.Plot]string, len(r.claims)),
		assignments: make(map[string][]string, len(r.assignments)),
		index:       make(map[string]int, len(r.activeIDs)),
		histIndex:   make(map[string]int, len(r.closed)),
	}
	for _, o := range r.activeOrders() {
		s.index[o.ID] = len(s.Active)
		s.Active = append(s.Active, o.Clone())
		if len(o.AssignedWorkers) == 0 {
			s.Metrics.Unassigned++
		}
	}
	s.Metrics.Active = len(s.Active)
	for _, o := range r.closed {
		s.histIndex[o.ID] = len(s.History)
		s.History = append(s.History, o.Clone())
	}
	for p, id := range r.claims {
		s.claims[p] = id
	}
	for w, ids := range r.assignments {
		s.assignments[w] = append([]string(nil), ids...)
	}
	return s
}

// Get finds an order in the active set or in history.
func (s *Snapshot) Get(id string) (workorder.WorkOrder, bool) {
	if i, ok := s.index[id]; ok {
		return s.Active[i].Clone(), true
	}
	if i, ok := s.histIndex[id]; ok {
		return s.History[i].Clone(), true
	}
	return workorder.WorkOrder{}, false
}

// PlotOwner returns the active order holding p in the conflict table.
func (s *Snapshot) PlotOwner(p workorder.Plot) (string, bool) {
	id, ok := s.claims[p]
	return id, ok
}

// ClaimedPlots returns a copy of the conflict table.
func (s *Snapshot) ClaimedPlots() map[workorder.Plot]string {
	out := make(map[workorder.Plot]string, len(s.claims))
	for p, id := range s.claims {
		out[p] = id
	}
	return out
}

// WorkerOrderIDs is the worker's assignment list.
func (s *Snapshot) WorkerOrderIDs(workerID string) []string {
	return append([]string(nil), s.assignments[workerID]...)
}

// WorkerOrders resolves the worker's assignment list to orders.
func (s *Snapshot) WorkerOrders(workerID string) []workorder.WorkOrder {
	ids := s.assignments[workerID]
	out := make([]workorder.WorkOrder, 0, len(ids))
	for _, id := range ids {
		if i, ok := s.index[id]; ok {
			out = append(out, s.Active[i].Clone())
		}
	}
	return out
}

// Workers lists every worker id with at least one active assignment.
func (s *Snapshot) Workers() []string {
	out := make([]string, 0, len(s.assignments))
	for w := range s.assignments {
		out = append(out, w)
	}
	return out
}
