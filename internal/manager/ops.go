package manager

import (
	"context"
	"fmt"
	"time"

	"farmcrew/internal/crew"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	"farmcrew/internal/skills"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

// Request describes a new work order.
type Request struct {
	Kind     workorder.TaskKind
	Plots    []workorder.Plot
	Priority workorder.Priority // zero means Normal
	// Deadline is relative to creation time; zero falls back to Config.DefaultDeadline.
	Deadline      time.Duration
	Notes         string
	PreferredRole workorder.Role
	Source        workorder.Source
	AutoAssign    bool
}

func (r Request) normalize() (Request, error) {
	if !r.Kind.Valid() {
		return r, fmt.Errorf("%w: unknown task kind %q", ErrInvalidRequest, r.Kind)
	}
	if r.Priority == 0 {
		r.Priority = workorder.Normal
	}
	if !r.Priority.Valid() {
		return r, fmt.Errorf("%w: priority %d out of range", ErrInvalidRequest, int(r.Priority))
	}
	if r.Deadline < 0 {
		return r, fmt.Errorf("%w: negative deadline", ErrInvalidRequest)
	}
	seen := make(map[workorder.Plot]bool, len(r.Plots))
	plots := make([]workorder.Plot, 0, len(r.Plots))
	for _, p := range r.Plots {
		if !seen[p] {
			seen[p] = true
			plots = append(plots, p)
		}
	}
	if len(plots) == 0 {
		return r, fmt.Errorf("%w: no plots", ErrInvalidRequest)
	}
	r.Plots = plots
	if r.Source == "" {
		r.Source = workorder.SourceRequest
	}
	return r, nil
}

// Create registers a new order, claims its plots and optionally auto-assigns it.
// A missing worker is not an error: the order stays pending.
func (m *Manager) Create(ctx context.Context, req Request) (workorder.WorkOrder, error) {
	var out workorder.WorkOrder
	err := m.do(ctx, func() error {
		o, err := m.create(req)
		if err != nil {
			return err
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (m *Manager) create(req Request) (*workorder.WorkOrder, error) {
	cfg := m.Config()
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	r := m.reg
	if len(r.active) >= cfg.MaxActiveOrders {
		r.metrics.RejectedCapacity++
		m.log.Debug("order rejected: capacity", logx.String("kind", req.Kind.String()), logx.Int("active", len(r.active)))
		return nil, ErrCapacity
	}

	if hit, owners := r.conflicts(req.Plots); len(hit) > 0 {
		r.metrics.ConflictsDetected++
		cerr := &ConflictError{Plots: hit, Owners: owners}
		switch cfg.ConflictPolicy {
		case ConflictTrim:
			req.Plots = without(req.Plots, owners)
			if len(req.Plots) == 0 {
				r.metrics.RejectedConflict++
				return nil, cerr
			}
			m.log.Debug("order trimmed to unclaimed plots", logx.String("kind", req.Kind.String()), logx.Int("trimmed", len(hit)), logx.Int("kept", len(req.Plots)))
		case ConflictWarn:
			r.overlaps = true
			m.log.Warn("plot conflict ignored (non-authoritative path; orders may overlap)",
				logx.String("kind", req.Kind.String()), logx.Int("conflicting", len(hit)), logx.Err(cerr))
		default:
			r.metrics.RejectedConflict++
			return nil, cerr
		}
	}

	now := m.now()
	o := &workorder.WorkOrder{
		ID:                workorder.NewID(now),
		Kind:              req.Kind,
		Plots:             req.Plots,
		Priority:          req.Priority,
		InitialPriority:   req.Priority,
		EstimatedDuration: workorder.EstimateDuration(req.Kind, len(req.Plots), skills.DefaultEfficiency),
		CreatedAt:         now,
		PreferredRole:     req.PreferredRole,
		Source:            req.Source,
		Notes:             req.Notes,
	}
	if o.PreferredRole == "" {
		o.PreferredRole = skills.RoleFor(req.Kind)
	}
	deadline := req.Deadline
	if deadline == 0 {
		deadline = cfg.DefaultDeadline
	}
	if deadline > 0 {
		o.Deadline = now.Add(deadline)
	}

	r.add(o)
	r.claim(o)
	r.metrics.Created++
	m.emit(eventbus.OrderCreated{
		OrderID:           o.ID,
		Kind:              o.Kind,
		PlotCount:         len(o.Plots),
		Priority:          o.Priority,
		EstimatedDuration: o.EstimatedDuration,
		Source:            o.Source,
	})
	m.log.Debug("order created", logx.String("order_id", o.ID), logx.String("kind", o.Kind.String()), logx.Int("plots", len(o.Plots)), logx.String("priority", o.Priority.String()))

	if req.AutoAssign {
		m.autoAssign(o)
	}
	return o, nil
}

func without(plots []workorder.Plot, drop map[workorder.Plot]string) []workorder.Plot {
	out := make([]workorder.Plot, 0, len(plots))
	for _, p := range plots {
		if _, ok := drop[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// autoAssign attaches the best-scoring available worker. It reports whether one was found.
func (m *Manager) autoAssign(o *workorder.WorkOrder) bool {
	if m.workers == nil || len(o.AssignedWorkers) > 0 {
		return false
	}
	w, score, ok := pickWorker(m.workers.Available(), o.Kind, o.Priority, m.reg.workload)
	if !ok {
		m.log.Debug("no worker available, order stays pending", logx.String("order_id", o.ID))
		return false
	}
	m.attachSole(o, w)
	m.reg.metrics.AutoAssigned++
	m.log.Debug("order auto-assigned", logx.String("order_id", o.ID), logx.String("worker_id", w.ID()), logx.Float64("score", score))
	return true
}

// attachSole makes w the order's only worker.
func (m *Manager) attachSole(o *workorder.WorkOrder, w crew.Worker) {
	o.AssignedWorkers = []string{w.ID()}
	o.Allocations = nil
	o.AssignedAt = m.now()
	o.EstimatedDuration = workorder.EstimateDuration(o.Kind, len(o.Plots), w.Efficiency(o.Kind))
	m.reg.attach(w.ID(), o.ID)
	m.emit(eventbus.OrderAssigned{
		OrderID:   o.ID,
		WorkerID:  w.ID(),
		Kind:      o.Kind,
		PlotCount: len(o.Plots),
		Priority:  o.Priority,
	})
}

func (m *Manager) lookupWorker(id string) (crew.Worker, error) {
	if m.workers == nil {
		return nil, ErrUnknownWorker
	}
	w, ok := m.workers.Lookup(id)
	if !ok || w == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	return w, nil
}

// Assign attaches workerID to an unassigned order.
func (m *Manager) Assign(ctx context.Context, orderID, workerID string) error {
	return m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		if len(o.AssignedWorkers) > 0 {
			return ErrAlreadyAssigned
		}
		w, err := m.lookupWorker(workerID)
		if err != nil {
			return err
		}
		m.attachSole(o, w)
		return nil
	})
}

// AssignAdditionalWorker adds a worker to an order and redistributes its plots across all
// assigned workers by weight. A nil or partial weights table falls back to each worker's
// efficiency for the order's task kind.
func (m *Manager) AssignAdditionalWorker(ctx context.Context, orderID, workerID string, weights skills.Weights) error {
	return m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		if o.IsAssigned(workerID) {
			return ErrAlreadyAssigned
		}
		w, err := m.lookupWorker(workerID)
		if err != nil {
			return err
		}
		if len(o.AssignedWorkers) == 0 {
			m.attachSole(o, w)
			return nil
		}
		stored := m.reg.weights[o.ID]
		if stored == nil {
			stored = map[string]float64{}
			m.reg.weights[o.ID] = stored
		}
		for id, v := range weights {
			if v > 0 {
				stored[id] = v
			}
		}
		o.AssignedWorkers = append(o.AssignedWorkers, workerID)
		m.reg.attach(workerID, o.ID)
		delete(m.reg.finished, o.ID)
		m.redistribute(o)
		return nil
	})
}

// RemoveWorker detaches workerID. Remaining workers share the plots again; removing the
// last worker returns the order to pending.
func (m *Manager) RemoveWorker(ctx context.Context, orderID, workerID string) error {
	return m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		if !o.IsAssigned(workerID) {
			return ErrNotAssigned
		}
		rest := make([]string, 0, len(o.AssignedWorkers)-1)
		for _, id := range o.AssignedWorkers {
			if id != workerID {
				rest = append(rest, id)
			}
		}
		m.reg.detach(workerID, o.ID)
		if f := m.reg.finished[o.ID]; f != nil {
			delete(f, workerID)
		}
		if ws := m.reg.weights[o.ID]; ws != nil {
			delete(ws, workerID)
		}

		switch len(rest) {
		case 0:
			o.AssignedWorkers = nil
			o.Allocations = nil
			o.AssignedAt = time.Time{}
			o.StartedAt = time.Time{}
			o.EstimatedDuration = workorder.EstimateDuration(o.Kind, len(o.Plots), skills.DefaultEfficiency)
			m.log.Info("last worker removed, order pending", logx.String("order_id", o.ID), logx.String("worker_id", workerID))
		case 1:
			o.AssignedWorkers = rest
			o.Allocations = nil
			o.EstimatedDuration = workorder.EstimateDuration(o.Kind, len(o.Plots), m.efficiency(rest[0], o.Kind))
			m.emit(eventbus.OrderAssigned{OrderID: o.ID, WorkerID: rest[0], Kind: o.Kind, PlotCount: len(o.Plots), Priority: o.Priority})
		default:
			o.AssignedWorkers = rest
			m.redistribute(o)
		}
		return nil
	})
}

func (m *Manager) efficiency(workerID string, kind workorder.TaskKind) float64 {
	if m.workers != nil {
		if w, ok := m.workers.Lookup(workerID); ok && w != nil {
			return w.Efficiency(kind)
		}
	}
	return skills.DefaultEfficiency
}

// redistribute recomputes allocations for a multi-worker order and announces every share.
func (m *Manager) redistribute(o *workorder.WorkOrder) {
	stored := m.reg.weights[o.ID]
	weight := func(id string) float64 {
		return skills.Weights(stored).Of(id, m.efficiency(id, o.Kind))
	}
	o.Allocations = Apportion(o.Plots, o.AssignedWorkers, weight)

	var longest time.Duration
	for _, id := range o.AssignedWorkers {
		d := workorder.EstimateDuration(o.Kind, len(o.Allocations[id]), m.efficiency(id, o.Kind))
		longest = max(longest, d)
	}
	o.EstimatedDuration = longest

	total := len(o.AssignedWorkers)
	for _, id := range o.AssignedWorkers {
		m.emit(eventbus.OrderMultiAssigned{OrderID: o.ID, WorkerID: id, TotalWorkers: total, Kind: o.Kind})
	}
}

// MarkStarted records the first start of work on an order.
func (m *Manager) MarkStarted(ctx context.Context, orderID, workerID string) error {
	return m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		if !o.IsAssigned(workerID) {
			return ErrNotAssigned
		}
		if o.StartedAt.IsZero() {
			o.StartedAt = m.now()
		}
		return nil
	})
}

// ReportProgress raises an order's progress. Lower values are ignored.
func (m *Manager) ReportProgress(ctx context.Context, orderID string, progress float64) error {
	return m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		raise(o, progress)
		return nil
	})
}

func raise(o *workorder.WorkOrder, progress float64) {
	progress = min(1, max(0, progress))
	if progress > o.Progress {
		o.Progress = progress
	}
}

// pendingPlots evaluates the completion predicate on live state.
func (m *Manager) pendingPlots(o *workorder.WorkOrder) ([]workorder.Plot, error) {
	if m.farm == nil {
		return nil, ErrFarmUnavailable
	}
	var pending []workorder.Plot
	for _, p := range o.Plots {
		t, ok, err := m.farm.Tile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFarmUnavailable, err)
		}
		if !ok || !farm.Done(o.Kind, t) {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// Complete closes an order once every plot satisfies its completion predicate.
func (m *Manager) Complete(ctx context.Context, orderID string) (workorder.WorkOrder, error) {
	var out workorder.WorkOrder
	err := m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		pending, err := m.pendingPlots(o)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			raise(o, float64(len(o.Plots)-len(pending))/float64(len(o.Plots)))
			return &IncompleteError{OrderID: o.ID, Pending: pending}
		}
		m.complete(o)
		out = o.Clone()
		return nil
	})
	return out, err
}

func (m *Manager) complete(o *workorder.WorkOrder) {
	now := m.now()
	o.CompletedAt = now
	o.Progress = 1
	o.AwaitingVerification = false

	ref := o.StartedAt
	if ref.IsZero() {
		ref = o.AssignedAt
	}
	if ref.IsZero() {
		ref = o.CreatedAt
	}
	elapsed := max(now.Sub(ref), 0)
	rating := EfficiencyRating(o.EstimatedDuration, elapsed)

	m.reg.close(o)
	m.reg.metrics.foldCompletion(elapsed, rating)
	m.emit(eventbus.OrderCompleted{OrderID: o.ID, Kind: o.Kind, CompletionTime: elapsed, EfficiencyRating: rating})
	m.log.Info("order completed", logx.String("order_id", o.ID), logx.String("kind", o.Kind.String()), logx.Duration("elapsed", elapsed), logx.Float64("rating", rating))
}

// Cancel closes an order unconditionally and releases its plots and worker links.
func (m *Manager) Cancel(ctx context.Context, orderID, reason string) error {
	return m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		o.CancelledAt = m.now()
		o.CancelReason = reason
		m.reg.close(o)
		m.reg.metrics.Cancelled++
		m.emit(eventbus.OrderCancelled{OrderID: o.ID, Kind: o.Kind, Reason: reason, Plots: append([]workorder.Plot(nil), o.Plots...)})
		m.log.Info("order cancelled", logx.String("order_id", o.ID), logx.String("kind", o.Kind.String()), logx.String("reason", reason))
		return nil
	})
}

// FinishOutcome reports what a worker-finished signal did to its order.
type FinishOutcome struct {
	Completed            bool
	AwaitingVerification bool
	Pending              int
	Progress             float64
}

// WorkerTaskFinished re-checks the order against live farm state. The order completes when
// every plot is done; once every worker with plots has reported and some plots are still
// pending, it is flagged for re-verification on the next day tick.
func (m *Manager) WorkerTaskFinished(ctx context.Context, orderID, workerID string, completedPlots int) (FinishOutcome, error) {
	var out FinishOutcome
	err := m.do(ctx, func() error {
		o, err := m.reg.activeOrder(orderID)
		if err != nil {
			return err
		}
		if !o.IsAssigned(workerID) {
			return ErrNotAssigned
		}
		pending, err := m.pendingPlots(o)
		if err != nil {
			m.log.Warn("completion check skipped", logx.String("order_id", o.ID), logx.Err(err))
			return err
		}
		raise(o, float64(len(o.Plots)-len(pending))/float64(len(o.Plots)))
		out.Pending, out.Progress = len(pending), o.Progress
		if len(pending) == 0 {
			m.complete(o)
			out.Completed = true
			return nil
		}

		f := m.reg.finished[o.ID]
		if f == nil {
			f = map[string]bool{}
			m.reg.finished[o.ID] = f
		}
		f[workerID] = true
		if reportedAll(o, f) {
			o.AwaitingVerification = true
		}
		out.AwaitingVerification = o.AwaitingVerification
		m.log.Debug("worker finished, order not done yet",
			logx.String("order_id", o.ID), logx.String("worker_id", workerID),
			logx.Int("reported", completedPlots), logx.Int("pending", len(pending)))
		return nil
	})
	return out, err
}

// reportedAll is true once every worker with a non-empty plot share has finished.
// Workers left with no plots by the split never report.
func reportedAll(o *workorder.WorkOrder, finished map[string]bool) bool {
	for _, w := range o.AssignedWorkers {
		if !finished[w] && len(o.PlotsFor(w)) > 0 {
			return false
		}
	}
	return true
}

// AssignPending runs auto-assignment for every unassigned active order, most urgent first,
// then oldest first. It returns how many orders got a worker.
func (m *Manager) AssignPending(ctx context.Context) (int, error) {
	n := 0
	err := m.do(ctx, func() error {
		var pending []*workorder.WorkOrder
		for _, o := range m.reg.activeOrders() {
			if len(o.AssignedWorkers) == 0 {
				pending = append(pending, o)
			}
		}
		sortByUrgency(pending)
		for _, o := range pending {
			if m.autoAssign(o) {
				n++
			}
		}
		return nil
	})
	return n, err
}
