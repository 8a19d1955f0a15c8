// Package crew defines the worker capability contract consumed by the scheduler and an
// in-memory roster implementation used by the simulator and tests.
package crew

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"farmcrew/internal/eventbus"
	"farmcrew/internal/skills"
	"farmcrew/internal/workorder"
)

var (
	ErrUnknownWorker = errors.New("unknown worker")
	ErrUnavailable   = errors.New("worker unavailable")
)

// Worker is the capability set the scheduler needs from an employee.
type Worker interface {
	ID() string
	Name() string
	Efficiency(kind workorder.TaskKind) float64
	CurrentWorkload() int
	// Execute begins real task execution on plots for orderID. Completion is reported
	// asynchronously through eventbus.WorkerTaskFinished.
	Execute(ctx context.Context, kind workorder.TaskKind, plots []workorder.Plot, orderID string) error
}

// Registry is the worker directory.
type Registry interface {
	// Available returns workers able to take new work, in a stable order.
	Available() []Worker
	Lookup(id string) (Worker, bool)
}

// ExecFunc performs the agronomic effect of a task. It runs inside Member.Execute.
type ExecFunc func(ctx context.Context, w *Member, kind workorder.TaskKind, plots []workorder.Plot, orderID string) error

// Member is an in-memory Worker.
type Member struct {
	id      string
	name    string
	profile skills.Profile
	exec    ExecFunc
	bus     eventbus.Bus

	onDuty   atomic.Bool
	workload atomic.Int64
}

type MemberOption func(*Member)

func WithExec(fn ExecFunc) MemberOption { return func(m *Member) { m.exec = fn } }

func WithBus(bus eventbus.Bus) MemberOption { return func(m *Member) { m.bus = bus } }

func NewMember(id, name string, profile skills.Profile, opts ...MemberOption) *Member {
	m := &Member{id: id, name: name, profile: profile}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	m.onDuty.Store(true)
	return m
}

func (m *Member) ID() string              { return m.id }
func (m *Member) Name() string            { return m.name }
func (m *Member) Profile() skills.Profile { return m.profile }
func (m *Member) CurrentWorkload() int    { return int(m.workload.Load()) }
func (m *Member) OnDuty() bool            { return m.onDuty.Load() }
func (m *Member) SetOnDuty(v bool)        { m.onDuty.Store(v) }

func (m *Member) Efficiency(kind workorder.TaskKind) float64 { return m.profile.For(kind) }

func (m *Member) Execute(ctx context.Context, kind workorder.TaskKind, plots []workorder.Plot, orderID string) error {
	if !m.OnDuty() {
		return ErrUnavailable
	}
	m.workload.Add(1)
	defer m.workload.Add(-1)

	if m.exec != nil {
		if err := m.exec(ctx, m, kind, plots, orderID); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.WorkerTaskFinished{OrderID: orderID, WorkerID: m.id, CompletedPlots: len(plots)})
	}
	return nil
}

// Roster is a Registry over Members. Available order is ascending by id.
type Roster struct {
	mu      sync.RWMutex
	members map[string]*Member
	bus     eventbus.Bus
}

func NewRoster(bus eventbus.Bus) *Roster {
	return &Roster{members: map[string]*Member{}, bus: bus}
}

// Add registers m (replacing any member with the same id) and announces it.
func (r *Roster) Add(m *Member) {
	if m == nil {
		return
	}
	r.mu.Lock()
	r.members[m.id] = m
	r.mu.Unlock()
	if r.bus != nil {
		r.bus.Publish(eventbus.WorkerAvailable{WorkerID: m.id})
	}
}

func (r *Roster) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

// SetOnDuty toggles availability; returning to duty is announced like a new worker.
func (r *Roster) SetOnDuty(id string, v bool) error {
	r.mu.RLock()
	m, ok := r.members[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownWorker
	}
	was := m.OnDuty()
	m.SetOnDuty(v)
	if v && !was && r.bus != nil {
		r.bus.Publish(eventbus.WorkerAvailable{WorkerID: id})
	}
	return nil
}

func (r *Roster) Available() []Worker {
	r.mu.RLock()
	out := make([]Worker, 0, len(r.members))
	for _, m := range r.members {
		if m.OnDuty() {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Roster) Lookup(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return m, true
}

func (r *Roster) Members() []*Member {
	r.mu.RLock()
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Weights returns each member's efficiency for kind, for plot redistribution.
func (r *Roster) Weights(kind workorder.TaskKind) skills.Weights {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w := make(skills.Weights, len(r.members))
	for id, m := range r.members {
		w[id] = m.Efficiency(kind)
	}
	return w
}
