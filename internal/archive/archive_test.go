package archive

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"farmcrew/internal/eventbus"
	"farmcrew/internal/storage"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

type stubOrders struct {
	mu     sync.Mutex
	orders map[string]workorder.WorkOrder
}

func (s *stubOrders) Get(id string) (workorder.WorkOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

var t0 = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

func closedOrders() *stubOrders {
	return &stubOrders{orders: map[string]workorder.WorkOrder{
		"wo_done": {
			ID: "wo_done", Kind: workorder.Tilling, Priority: workorder.Normal, InitialPriority: workorder.Normal,
			Plots: []workorder.Plot{{X: 0, Y: 0}}, AssignedWorkers: []string{"w1"},
			CreatedAt: t0, AssignedAt: t0, CompletedAt: t0.Add(time.Minute),
		},
		"wo_gone": {
			ID: "wo_gone", Kind: workorder.Watering, Plots: []workorder.Plot{{X: 1, Y: 0}},
			CreatedAt: t0, CancelledAt: t0.Add(2 * time.Minute), CancelReason: "rain",
		},
		"wo_open": {ID: "wo_open", Kind: workorder.Planting, CreatedAt: t0},
	}}
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "farmcrew.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecordWritesClosedOrdersOnly(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	a := New(st, closedOrders(), nil, logx.Nop())
	ctx := context.Background()

	if !a.Record(ctx, "wo_done", 1.5) {
		t.Fatal("completed order not archived")
	}
	if a.Record(ctx, "wo_open", 0) {
		t.Fatal("active order must not be archived")
	}
	if a.Record(ctx, "wo_missing", 0) {
		t.Fatal("unknown order must not be archived")
	}

	recs, err := a.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "wo_done" || recs[0].Efficiency != 1.5 || recs[0].Status != workorder.StatusCompleted {
		t.Fatalf("records = %+v", recs)
	}
	snap := a.Snapshot()
	if snap.Archived != 1 || snap.Missing != 2 || snap.LastID != "wo_done" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestListenArchivesBusSignals(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	bus := eventbus.New()
	a := New(st, closedOrders(), bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop(context.Background())

	bus.Publish(eventbus.OrderCancelled{OrderID: "wo_gone", Kind: workorder.Watering, Reason: "rain"})
	bus.Publish(eventbus.OrderCompleted{OrderID: "wo_done", Kind: workorder.Tilling, EfficiencyRating: 1})

	deadline := time.Now().Add(2 * time.Second)
	for a.Snapshot().Archived < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("archived = %d, want 2", a.Snapshot().Archived)
		}
		time.Sleep(5 * time.Millisecond)
	}
	recs, err := st.RecentOrders(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOrders: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "wo_done" || recs[1].Reason != "rain" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestDisabledStore(t *testing.T) {
	t.Parallel()
	a := New(nil, closedOrders(), eventbus.New(), logx.Nop())
	a.Start(context.Background())
	if a.Record(context.Background(), "wo_done", 1) {
		t.Fatal("Record without store should be a no-op")
	}
	if _, err := a.Recent(context.Background(), 1); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("Recent err = %v, want ErrDisabled", err)
	}
	if a.Snapshot().Enabled {
		t.Fatal("snapshot should report disabled")
	}
}
