package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"farmcrew/internal/crew"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	"farmcrew/internal/manager"
	rtsup "farmcrew/internal/runtime/supervisor"
	"farmcrew/internal/task/engine"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

var (
	ErrNoValidPlots     = errors.New("no plot passes the task precondition")
	ErrNoWorker         = errors.New("no worker available")
	ErrStateUnavailable = errors.New("farm state unavailable")
)

type Config struct {
	// UseWorkOrders routes requests through the manager; false selects direct dispatch.
	UseWorkOrders  bool
	ExecuteTimeout time.Duration
}

const DefaultExecuteTimeout = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = DefaultExecuteTimeout
	}
	return c
}

// Orders is the manager surface the router needs.
type Orders interface {
	Create(ctx context.Context, req manager.Request) (workorder.WorkOrder, error)
	Assign(ctx context.Context, orderID, workerID string) error
	Cancel(ctx context.Context, orderID, reason string) error
	MarkStarted(ctx context.Context, orderID, workerID string) error
	Get(id string) (workorder.WorkOrder, bool)
}

// Executor queues execution work.
type Executor interface {
	Enqueue(t engine.Task) error
}

// Result describes what AssignTask did.
type Result struct {
	OrderID  string           `json:"order_id,omitempty"`
	WorkerID string           `json:"worker_id,omitempty"`
	Plots    []workorder.Plot `json:"plots"`
	Dropped  []workorder.Plot `json:"dropped,omitempty"`
	Legacy   bool             `json:"legacy,omitempty"`
}

type Snapshot struct {
	UseWorkOrders bool   `json:"use_work_orders"`
	Requests      uint64 `json:"requests"`
	Dispatched    uint64 `json:"dispatched"`
	Failed        uint64 `json:"failed"`
	Tags          int    `json:"tags"`
}

type Router struct {
	cfg atomic.Pointer[Config]

	state   farm.State
	orders  Orders
	workers crew.Registry
	exec    Executor
	bus     eventbus.Bus
	tags    *TagBoard
	log     logx.Logger

	mu  sync.Mutex
	sup *rtsup.Supervisor

	requests   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

func New(cfg Config, state farm.State, orders Orders, workers crew.Registry, exec Executor, bus eventbus.Bus, log logx.Logger) *Router {
	r := &Router{
		state:   state,
		orders:  orders,
		workers: workers,
		exec:    exec,
		bus:     bus,
		tags:    NewTagBoard(),
		log:     log.OrNop().With(logx.String("comp", "integration")),
	}
	r.Apply(cfg)
	return r
}

func (r *Router) Apply(cfg Config) {
	c := cfg.withDefaults()
	r.cfg.Store(&c)
}

func (r *Router) config() Config { return *r.cfg.Load() }

func (r *Router) Tags() *TagBoard { return r.tags }

// Validate splits plots into those passing kind's precondition on live state and the rest.
func (r *Router) Validate(kind workorder.TaskKind, plots []workorder.Plot) (valid, dropped []workorder.Plot, err error) {
	if r.state == nil {
		return nil, nil, ErrStateUnavailable
	}
	for _, p := range plots {
		t, ok, err := r.state.Tile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
		}
		if ok && farm.Valid(kind, t) {
			valid = append(valid, p)
		} else {
			dropped = append(dropped, p)
		}
	}
	return valid, dropped, nil
}

// AssignTask validates plots and routes the request. Invalid plots are dropped; the call
// fails only when none remain. An empty workerID lets the scheduler choose.
func (r *Router) AssignTask(ctx context.Context, kind workorder.TaskKind, plots []workorder.Plot, workerID string) (Result, error) {
	r.requests.Add(1)
	valid, dropped, err := r.Validate(kind, plots)
	if err != nil {
		return Result{}, err
	}
	if len(valid) == 0 {
		return Result{Dropped: dropped}, ErrNoValidPlots
	}
	if len(dropped) > 0 {
		r.log.Debug("plots dropped by precondition", logx.String("kind", kind.String()), logx.Int("dropped", len(dropped)), logx.Int("kept", len(valid)))
	}

	if !r.config().UseWorkOrders {
		res, err := r.assignDirect(kind, valid, workerID)
		res.Dropped = dropped
		return res, err
	}

	// A named worker is resolved first so a bad id leaves no order behind, as on the
	// direct path.
	if workerID != "" {
		if _, err := r.lookupWorker(workerID); err != nil {
			return Result{Dropped: dropped}, err
		}
	}
	o, err := r.orders.Create(ctx, manager.Request{Kind: kind, Plots: valid, AutoAssign: workerID == ""})
	if err != nil {
		return Result{Dropped: dropped}, err
	}
	res := Result{OrderID: o.ID, Plots: o.Plots, Dropped: dropped}
	r.tags.Set(o.Plots, Tag{Kind: kind, OrderID: o.ID})
	if workerID != "" {
		if err := r.orders.Assign(ctx, o.ID, workerID); err != nil {
			// The worker left between lookup and assignment. Undo the order so a retry
			// does not conflict with it.
			r.tags.ClearPlots(kind, o.Plots)
			if cerr := r.orders.Cancel(ctx, o.ID, "requested worker unavailable"); cerr != nil {
				r.log.Warn("rollback cancel failed", logx.String("order_id", o.ID), logx.Err(cerr))
			}
			return Result{Dropped: dropped}, fmt.Errorf("%w: %s: %w", ErrNoWorker, workerID, err)
		}
		res.WorkerID = workerID
	} else if len(o.AssignedWorkers) > 0 {
		res.WorkerID = o.AssignedWorkers[0]
	}
	return res, nil
}

// assignDirect picks a worker without creating an order and dispatches immediately.
func (r *Router) assignDirect(kind workorder.TaskKind, plots []workorder.Plot, workerID string) (Result, error) {
	w, err := r.pickDirect(kind, workerID)
	if err != nil {
		return Result{}, err
	}
	r.tags.Set(plots, Tag{Kind: kind})
	if err := r.dispatch(w, kind, plots, ""); err != nil {
		r.tags.ClearPlots(kind, plots)
		return Result{}, err
	}
	return Result{WorkerID: w.ID(), Plots: plots, Legacy: true}, nil
}

func (r *Router) pickDirect(kind workorder.TaskKind, workerID string) (crew.Worker, error) {
	if r.workers == nil {
		return nil, ErrNoWorker
	}
	if workerID != "" {
		return r.lookupWorker(workerID)
	}
	var best crew.Worker
	for _, w := range r.workers.Available() {
		if best == nil || w.Efficiency(kind) > best.Efficiency(kind) {
			best = w
		}
	}
	if best == nil {
		return nil, ErrNoWorker
	}
	return best, nil
}

func (r *Router) lookupWorker(id string) (crew.Worker, error) {
	if r.workers == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoWorker, id)
	}
	w, ok := r.workers.Lookup(id)
	if !ok || w == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoWorker, id)
	}
	return w, nil
}

// dispatch queues w's execution. For work orders the start is recorded before the
// worker runs, since the worker's finish signal may close the order.
func (r *Router) dispatch(w crew.Worker, kind workorder.TaskKind, plots []workorder.Plot, orderID string) error {
	if r.exec == nil {
		return fmt.Errorf("%w: no executor", engine.ErrStopped)
	}
	key := "exec:" + w.ID()
	if orderID != "" {
		key = "exec:" + orderID + "/" + w.ID()
	}
	timeout := r.config().ExecuteTimeout
	err := r.exec.Enqueue(engine.Task{
		Name:    "execute." + kind.String(),
		Key:     key,
		Timeout: timeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			if orderID != "" {
				if err := r.orders.MarkStarted(ctx, orderID, w.ID()); err != nil {
					return engine.NoRetry(err)
				}
			}
			err := w.Execute(ctx, kind, plots, orderID)
			if errors.Is(err, crew.ErrUnavailable) {
				return engine.NoRetry(err)
			}
			return err
		},
		Done: func(err error) {
			if err != nil {
				r.failed.Add(1)
				r.log.Warn("execution failed", logx.String("order_id", orderID), logx.String("worker_id", w.ID()), logx.Err(err))
			}
		},
	})
	if err != nil {
		if errors.Is(err, engine.ErrOverlapSkip) {
			r.log.Debug("execution already queued", logx.String("key", key))
			return nil
		}
		return err
	}
	r.dispatched.Add(1)
	return nil
}

// Start runs the assignment bridge.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil || r.bus == nil {
		return
	}
	events, unsub := r.bus.Subscribe(256)
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log))
	r.sup.GoRestart("integration.bridge", func(ctx context.Context) error {
		return r.bridge(ctx, events)
	})
	r.sup.Go0("integration.unsubscribe", func(ctx context.Context) {
		<-ctx.Done()
		unsub()
	})
}

func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	sup := r.sup
	r.sup = nil
	r.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		r.log.Warn("integration stop", logx.Err(err))
	}
}

func (r *Router) bridge(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(e)
		}
	}
}

func (r *Router) handle(e eventbus.Event) {
	switch sig := e.Signal.(type) {
	case eventbus.OrderAssigned:
		r.execute(sig.OrderID, sig.WorkerID)
	case eventbus.OrderMultiAssigned:
		r.execute(sig.OrderID, sig.WorkerID)
	case eventbus.OrderCancelled:
		// Tags are kind scoped: cancelling one order also clears other orders' tags of the
		// same kind. They come back on the next assignment of those orders.
		n := r.tags.ClearKind(sig.Kind)
		r.log.Debug("tags cleared on cancel", logx.String("order_id", sig.OrderID), logx.String("kind", sig.Kind.String()), logx.Int("cleared", n))
	case eventbus.OrderCompleted:
		if o, ok := r.orders.Get(sig.OrderID); ok {
			r.tags.ClearPlots(o.Kind, o.Plots)
		}
	}
}

// execute resolves the worker's plot share and queues it.
func (r *Router) execute(orderID, workerID string) {
	o, ok := r.orders.Get(orderID)
	if !ok || !o.Active() || !o.IsAssigned(workerID) {
		return
	}
	if r.workers == nil {
		r.log.Warn("worker registry unavailable, execution skipped", logx.String("order_id", orderID))
		return
	}
	w, ok := r.workers.Lookup(workerID)
	if !ok || w == nil {
		r.log.Warn("assigned worker unknown", logx.String("order_id", orderID), logx.String("worker_id", workerID))
		return
	}
	plots := o.PlotsFor(workerID)
	if len(plots) == 0 {
		return
	}
	r.tags.Set(o.Plots, Tag{Kind: o.Kind, OrderID: o.ID})
	if err := r.dispatch(w, o.Kind, plots, o.ID); err != nil {
		r.failed.Add(1)
		r.log.Warn("execution not queued", logx.String("order_id", orderID), logx.String("worker_id", workerID), logx.Err(err))
	}
}

func (r *Router) Snapshot() Snapshot {
	return Snapshot{
		UseWorkOrders: r.config().UseWorkOrders,
		Requests:      r.requests.Load(),
		Dispatched:    r.dispatched.Load(),
		Failed:        r.failed.Load(),
		Tags:          r.tags.Len(),
	}
}
