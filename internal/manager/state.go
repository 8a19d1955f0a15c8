package manager

import (
	"slices"
	"time"

	"farmcrew/internal/workorder"
)

// registry is the manager's mutable state. Only the actor goroutine touches it.
type registry struct {
	active map[string]*workorder.WorkOrder
	// activeIDs keeps active order ids in creation order.
	activeIDs []string
	// closed holds completed and cancelled orders in close order.
	closed []*workorder.WorkOrder

	// claims is the plot-conflict table: plot -> owning active order.
	claims map[workorder.Plot]string
	// assignments is worker -> ids of active orders the worker is attached to.
	assignments map[string][]string

	// weights remembers the skill weights used for an order's last redistribution.
	weights map[string]map[string]float64
	// finished tracks which assigned workers reported done for an order.
	finished map[string]map[string]bool
	// overlaps is set once an order was created over claimed plots (warn policy).
	overlaps bool

	metrics Metrics
}

func newRegistry() *registry {
	return &registry{
		active:      map[string]*workorder.WorkOrder{},
		claims:      map[workorder.Plot]string{},
		assignments: map[string][]string{},
		weights:     map[string]map[string]float64{},
		finished:    map[string]map[string]bool{},
	}
}

func (r *registry) lookupClosed(id string) *workorder.WorkOrder {
	for _, o := range r.closed {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// activeOrder resolves id to an active order or the matching sentinel.
func (r *registry) activeOrder(id string) (*workorder.WorkOrder, error) {
	if o, ok := r.active[id]; ok {
		return o, nil
	}
	if r.lookupClosed(id) != nil {
		return nil, ErrOrderClosed
	}
	return nil, ErrNotFound
}

// conflicts returns the requested plots already claimed by another active order.
func (r *registry) conflicts(plots []workorder.Plot) ([]workorder.Plot, map[workorder.Plot]string) {
	var hit []workorder.Plot
	owners := map[workorder.Plot]string{}
	for _, p := range plots {
		if owner, ok := r.claims[p]; ok {
			hit = append(hit, p)
			owners[p] = owner
		}
	}
	return hit, owners
}

// claim registers o's plots. A plot already owned by another order keeps its owner.
func (r *registry) claim(o *workorder.WorkOrder) {
	for _, p := range o.Plots {
		if _, taken := r.claims[p]; !taken {
			r.claims[p] = o.ID
		}
	}
}

func (r *registry) attach(workerID, orderID string) {
	for _, id := range r.assignments[workerID] {
		if id == orderID {
			return
		}
	}
	r.assignments[workerID] = append(r.assignments[workerID], orderID)
}

func (r *registry) detach(workerID, orderID string) {
	ids := r.assignments[workerID]
	for i, id := range ids {
		if id == orderID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.assignments, workerID)
		return
	}
	r.assignments[workerID] = ids
}

func (r *registry) workload(workerID string) int { return len(r.assignments[workerID]) }

// close moves o to history and releases its plot claims and worker links in one step.
func (r *registry) close(o *workorder.WorkOrder) {
	var released []workorder.Plot
	for _, p := range o.Plots {
		if r.claims[p] == o.ID {
			delete(r.claims, p)
			released = append(released, p)
		}
	}
	for _, w := range o.AssignedWorkers {
		r.detach(w, o.ID)
	}
	delete(r.active, o.ID)
	for i, id := range r.activeIDs {
		if id == o.ID {
			r.activeIDs = append(r.activeIDs[:i], r.activeIDs[i+1:]...)
			break
		}
	}
	delete(r.weights, o.ID)
	delete(r.finished, o.ID)
	r.closed = append(r.closed, o)
	if r.overlaps {
		r.handOver(released)
	}
}

// handOver gives each released plot to the oldest active order that still covers it.
func (r *registry) handOver(plots []workorder.Plot) {
	for _, p := range plots {
		for _, id := range r.activeIDs {
			if slices.Contains(r.active[id].Plots, p) {
				r.claims[p] = id
				break
			}
		}
	}
}

func (r *registry) add(o *workorder.WorkOrder) {
	r.active[o.ID] = o
	r.activeIDs = append(r.activeIDs, o.ID)
}

// activeOrders returns active orders in creation order.
func (r *registry) activeOrders() []*workorder.WorkOrder {
	out := make([]*workorder.WorkOrder, 0, len(r.activeIDs))
	for _, id := range r.activeIDs {
		out = append(out, r.active[id])
	}
	return out
}

// purge drops closed orders whose close time is older than retention at now.
func (r *registry) purge(now time.Time, retention time.Duration) int {
	kept := r.closed[:0]
	n := 0
	for _, o := range r.closed {
		if now.Sub(closedAt(o)) > retention {
			n++
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(r.closed); i++ {
		r.closed[i] = nil
	}
	r.closed = kept
	return n
}

func closedAt(o *workorder.WorkOrder) time.Time {
	if !o.CompletedAt.IsZero() {
		return o.CompletedAt
	}
	return o.CancelledAt
}
