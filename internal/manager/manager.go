// Package manager is the work-order registry: it creates, assigns, completes and cancels
// orders, owns the plot-conflict and worker-assignment tables, and escalates overdue work.
//
// Every mutation runs on one actor goroutine. Callers submit closures and wait for the
// result; queries read an immutable Snapshot republished after each mutation, so they run
// concurrently with the actor and always see a state where plot claims and worker links
// agree. Signals raised by a mutation are published after its snapshot is stored.
package manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"farmcrew/internal/clock"
	"farmcrew/internal/crew"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	rtsup "farmcrew/internal/runtime/supervisor"
	"farmcrew/pkg/logx"
)

type Manager struct {
	cfg     atomic.Pointer[Config]
	farm    farm.State
	workers crew.Registry
	bus     eventbus.Bus
	clock   clock.Clock
	log     logx.Logger

	ops  chan request
	snap atomic.Pointer[Snapshot]

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	stopped chan struct{}

	// reg is owned by the actor goroutine.
	reg *registry
	// pending collects signals raised by the running op.
	pending []eventbus.Signal
}

type request struct {
	fn   func() error
	done chan error
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// New builds a stopped manager. state and workers may be nil; operations needing them
// then report ErrFarmUnavailable or skip auto-assignment.
func New(cfg Config, state farm.State, workers crew.Registry, log logx.Logger, bus eventbus.Bus, opts ...Option) *Manager {
	m := &Manager{
		farm:    state,
		workers: workers,
		bus:     bus,
		log:     log.OrNop().With(logx.String("comp", "manager")),
		ops:     make(chan request),
		reg:     newRegistry(),
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	m.clock = clock.OrReal(m.clock)
	c := cfg.withDefaults()
	m.cfg.Store(&c)
	m.snap.Store(m.reg.snapshot(m.clock.Now()))
	return m
}

func (m *Manager) Config() Config { return *m.cfg.Load() }

// Apply swaps the config. It takes effect from the next operation.
func (m *Manager) Apply(cfg Config) {
	c := cfg.withDefaults()
	prev := m.cfg.Swap(&c)
	if prev.MaxActiveOrders != c.MaxActiveOrders || prev.ConflictPolicy != c.ConflictPolicy || prev.Retention != c.Retention {
		m.log.Info("manager config applied",
			logx.Int("max_active_orders", c.MaxActiveOrders),
			logx.String("conflict_policy", string(c.ConflictPolicy)),
			logx.Duration("retention", c.Retention),
		)
	}
}

// Start launches the actor and the bus listener.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup != nil {
		return
	}
	m.stopped = make(chan struct{})
	m.sup = rtsup.New(ctx, rtsup.WithLogger(m.log))
	stopped := m.stopped
	m.sup.Go0("manager.actor", func(ctx context.Context) {
		defer close(stopped)
		m.loop(ctx)
	})
	if m.bus != nil {
		events, unsub := m.bus.Subscribe(256)
		m.sup.GoRestart("manager.listen", func(ctx context.Context) error {
			return m.listen(ctx, events)
		}, rtsup.WithPublishFirstError(true))
		m.sup.Go0("manager.unsubscribe", func(ctx context.Context) {
			<-ctx.Done()
			unsub()
		})
	}
	m.log.Info("manager started", logx.Int("max_active_orders", m.Config().MaxActiveOrders))
}

func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	sup := m.sup
	m.sup = nil
	m.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		m.log.Warn("manager stop", logx.Err(err))
		return
	}
	m.log.Info("manager stopped")
}

func (m *Manager) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.ops:
			req.done <- m.run(req.fn)
		}
	}
}

// run executes one op, publishes the new snapshot, then flushes the op's signals.
func (m *Manager) run(fn func() error) (err error) {
	m.pending = m.pending[:0]
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("manager op panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("manager invariant violation: %v", r)
		}
		m.snap.Store(m.reg.snapshot(m.clock.Now()))
		signals := append([]eventbus.Signal(nil), m.pending...)
		m.pending = m.pending[:0]
		if m.bus != nil {
			for _, s := range signals {
				m.bus.Publish(s)
			}
		}
	}()
	return fn()
}

// do hands fn to the actor and waits for it. Once accepted, fn always runs to completion.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped == nil {
		return ErrStopped
	}
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case m.ops <- req:
	case <-stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.done
}

func (m *Manager) emit(s eventbus.Signal) { m.pending = append(m.pending, s) }

// Snapshot returns the latest published view.
func (m *Manager) Snapshot() *Snapshot { return m.snap.Load() }

func (m *Manager) listen(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.handle(ctx, e)
		}
	}
}

func (m *Manager) handle(ctx context.Context, e eventbus.Event) {
	switch sig := e.Signal.(type) {
	case eventbus.WorkerTaskFinished:
		if _, err := m.WorkerTaskFinished(ctx, sig.OrderID, sig.WorkerID, sig.CompletedPlots); err != nil {
			m.log.Debug("worker finish not applied", logx.String("order_id", sig.OrderID), logx.String("worker_id", sig.WorkerID), logx.Err(err))
		}
	case eventbus.DayPassed:
		if _, err := m.DayTick(ctx); err != nil {
			m.log.Warn("day tick failed", logx.Int("day", sig.Day), logx.Err(err))
		}
	case eventbus.WorkerAvailable:
		if _, err := m.AssignPending(ctx); err != nil {
			m.log.Debug("assign pending failed", logx.String("worker_id", sig.WorkerID), logx.Err(err))
		}
	}
}

func (m *Manager) now() time.Time { return m.clock.Now() }
