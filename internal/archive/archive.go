// Package archive persists closed work orders. It listens on the bus for completions and
// cancellations, reads the closed order from the manager's history and appends a record
// to the configured store. Archive failures are logged and never reach the manager.
package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"farmcrew/internal/eventbus"
	rtsup "farmcrew/internal/runtime/supervisor"
	"farmcrew/internal/storage"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

// Orders is the read side of the manager the archive needs.
type Orders interface {
	Get(id string) (workorder.WorkOrder, bool)
}

type Snapshot struct {
	Enabled  bool      `json:"enabled"`
	Archived uint64    `json:"archived"`
	Failed   uint64    `json:"failed"`
	Missing  uint64    `json:"missing"`
	LastID   string    `json:"last_id,omitempty"`
	LastAt   time.Time `json:"last_at,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	sup *rtsup.Supervisor

	store  storage.Store
	orders Orders
	bus    eventbus.Bus
	log    logx.Logger

	// writeTimeout bounds one append.
	writeTimeout time.Duration

	archived atomic.Uint64
	failed   atomic.Uint64
	missing  atomic.Uint64
	lastID   string
	lastAt   time.Time
}

// New returns an archive. A nil store makes it a no-op.
func New(store storage.Store, orders Orders, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{
		store:        store,
		orders:       orders,
		bus:          bus,
		log:          log.OrNop().With(logx.String("comp", "archive")),
		writeTimeout: 5 * time.Second,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.store == nil || s.bus == nil {
		return
	}
	events, unsub := s.bus.Subscribe(256)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("archive.listen", func(ctx context.Context) error {
		return s.listen(ctx, events)
	})
	s.sup.Go0("archive.unsubscribe", func(ctx context.Context) {
		<-ctx.Done()
		unsub()
	})
	s.log.Info("archive started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("archive stop", logx.Err(err))
	}
}

func (s *Service) listen(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch sig := e.Signal.(type) {
			case eventbus.OrderCompleted:
				s.Record(ctx, sig.OrderID, sig.EfficiencyRating)
			case eventbus.OrderCancelled:
				s.Record(ctx, sig.OrderID, 0)
			}
		}
	}
}

// Record archives the closed order id. It reports whether a record was written.
func (s *Service) Record(ctx context.Context, id string, rating float64) bool {
	if s.store == nil {
		return false
	}
	o, ok := s.orders.Get(id)
	if !ok || o.Active() {
		s.missing.Add(1)
		s.log.Debug("closed order not in history", logx.String("order", id))
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.store.AppendOrder(wctx, storage.RecordFromOrder(o, rating)); err != nil {
		s.failed.Add(1)
		s.log.Warn("archive append failed", logx.String("order", id), logx.Err(err))
		return false
	}
	s.archived.Add(1)
	s.mu.Lock()
	s.lastID, s.lastAt = id, time.Now()
	s.mu.Unlock()
	return true
}

// Recent returns the newest archived records.
func (s *Service) Recent(ctx context.Context, limit int) ([]storage.OrderRecord, error) {
	if s.store == nil {
		return nil, storage.ErrDisabled
	}
	return s.store.RecentOrders(ctx, limit)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Enabled:  s.store != nil,
		Archived: s.archived.Load(),
		Failed:   s.failed.Load(),
		Missing:  s.missing.Load(),
		LastID:   s.lastID,
		LastAt:   s.lastAt,
	}
}
