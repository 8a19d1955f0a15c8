package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"farmcrew/internal/clock"
	"farmcrew/internal/crew"
	"farmcrew/internal/farm"
	"farmcrew/internal/manager"
	"farmcrew/internal/skills"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

var mature = func(t *farm.Tile) {
	t.Terrain = farm.TerrainTilled
	t.Crop = "wheat"
	t.Stage = farm.StageMature
	t.Water = 0.8
	t.Nutrients = 0.8
}

func newManager(t *testing.T, grid *farm.Grid, clk clock.Clock, roster *crew.Roster) *manager.Manager {
	t.Helper()
	m := manager.New(manager.Config{}, grid, roster, logx.Nop(), nil, manager.WithClock(clk))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		m.Stop(context.Background())
		cancel()
	})
	return m
}

func TestScanBatchesConnectedPlots(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	grid := farm.NewGrid(8, 8, farm.Tile{Terrain: farm.TerrainGrass})
	grid.Fill(1, 1, 3, 3, mature)
	grid.Update(workorder.Plot{X: 6, Y: 6}, mature)

	roster := crew.NewRoster(nil)
	roster.Add(crew.NewMember("h1", "h1", skills.NewProfile(workorder.RoleHarvester)))
	m := newManager(t, grid, clk, roster)
	g := New(Config{Enabled: true, AutoAssign: true}, grid, m, nil, logx.Nop(), WithClock(clk))

	rep, err := g.Scan(context.Background(), "test")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rep.Created != 1 || rep.Batches != 1 || rep.Rejected != 0 {
		t.Fatalf("report = %+v, want one order", rep)
	}
	active := m.Active()
	if len(active) != 1 {
		t.Fatalf("active orders = %d, want 1", len(active))
	}
	o := active[0]
	if o.Kind != workorder.Harvesting || len(o.Plots) != 9 || o.Priority != workorder.High {
		t.Fatalf("order = %+v", o)
	}
	if got, want := o.Deadline.Sub(o.CreatedAt), Deadline(farm.ReadyForHarvest, 9); got != want {
		t.Fatalf("deadline offset = %v, want %v", got, want)
	}
	if o.Source != workorder.SourceScan || o.PreferredRole != workorder.RoleHarvester {
		t.Fatalf("source=%v role=%v", o.Source, o.PreferredRole)
	}
	if len(o.AssignedWorkers) != 1 || o.AssignedWorkers[0] != "h1" {
		t.Fatalf("assigned = %v, want [h1]", o.AssignedWorkers)
	}
	if _, ok := m.PlotOwner(workorder.Plot{X: 6, Y: 6}); ok {
		t.Fatal("isolated plot must not get an order")
	}

	// Claimed plots are skipped on the next pass.
	rep, err = g.Scan(context.Background(), "again")
	if err != nil || rep.Created != 0 {
		t.Fatalf("second scan = %+v, %v; want nothing new", rep, err)
	}
	if snap := g.Snapshot(); snap.Scans != 2 || snap.Last == nil || snap.Last.Trigger != "again" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestScanEmitsInConditionOrder(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	grid := farm.NewGrid(6, 6, farm.Tile{Terrain: farm.TerrainGrass})
	grid.Fill(0, 0, 2, 0, func(t *farm.Tile) { t.Terrain = farm.TerrainSoil })
	grid.Fill(0, 3, 2, 3, mature)
	m := newManager(t, grid, clk, crew.NewRoster(nil))
	g := New(Config{Enabled: true}, grid, m, nil, logx.Nop(), WithClock(clk))

	if _, err := g.Scan(context.Background(), "test"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	active := m.Active()
	if len(active) != 2 || active[0].Kind != workorder.Harvesting || active[1].Kind != workorder.Tilling {
		t.Fatalf("creation order = %v", active)
	}
	if active[1].Priority != workorder.Low {
		t.Fatalf("tilling priority = %v, want low", active[1].Priority)
	}
}

func TestScanSkipsWhenStateUnavailable(t *testing.T) {
	t.Parallel()
	grid := farm.NewGrid(4, 4, farm.Tile{Terrain: farm.TerrainSoil})
	grid.SetUnavailable(true)
	m := newManager(t, grid, clock.NewManual(time.Now()), crew.NewRoster(nil))
	g := New(Config{Enabled: true}, grid, m, nil, logx.Nop())

	if _, err := g.Scan(context.Background(), "test"); !errors.Is(err, ErrStateUnavailable) {
		t.Fatalf("err = %v, want ErrStateUnavailable", err)
	}
	if n := len(m.Active()); n != 0 {
		t.Fatalf("active = %d, want 0", n)
	}
	if _, err := New(Config{}, grid, m, nil, logx.Nop()).Scan(context.Background(), "off"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
}

func TestReactiveHarvest(t *testing.T) {
	t.Parallel()
	grid := farm.NewGrid(4, 4, farm.Tile{Terrain: farm.TerrainGrass})
	grid.Update(workorder.Plot{X: 0, Y: 0}, mature)
	grid.Update(workorder.Plot{X: 3, Y: 3}, mature)
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	m := newManager(t, grid, clk, crew.NewRoster(nil))
	g := New(Config{Enabled: true, ReactiveHarvest: true, ReactiveRatePerSec: 1}, grid, m, nil, logx.Nop())
	ctx := context.Background()

	o, err := g.Reactive(ctx, workorder.Plot{X: 0, Y: 0})
	if err != nil {
		t.Fatalf("Reactive: %v", err)
	}
	if len(o.Plots) != 1 || o.Priority != workorder.High || o.Source != workorder.SourceReactive {
		t.Fatalf("order = %+v", o)
	}
	if got := o.Deadline.Sub(o.CreatedAt); got != DefaultReactiveDeadline {
		t.Fatalf("deadline offset = %v, want %v", got, DefaultReactiveDeadline)
	}
	if _, err := g.Reactive(ctx, workorder.Plot{X: 1, Y: 1}); !errors.Is(err, ErrNotHarvestable) {
		t.Fatalf("grass err = %v, want ErrNotHarvestable", err)
	}
	if _, err := g.Reactive(ctx, workorder.Plot{X: 3, Y: 3}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("burst err = %v, want ErrRateLimited", err)
	}
	if snap := g.Snapshot(); snap.ReactiveCreated != 1 || snap.ReactiveDropped != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestReactiveRateFollowsClock(t *testing.T) {
	t.Parallel()
	grid := farm.NewGrid(4, 4, farm.Tile{Terrain: farm.TerrainGrass})
	for _, p := range []workorder.Plot{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}} {
		grid.Update(p, mature)
	}
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	m := newManager(t, grid, clk, crew.NewRoster(nil))
	g := New(Config{Enabled: true, ReactiveHarvest: true, ReactiveRatePerSec: 1}, grid, m, nil, logx.Nop(), WithClock(clk))
	ctx := context.Background()

	if _, err := g.Reactive(ctx, workorder.Plot{X: 0, Y: 0}); err != nil {
		t.Fatalf("first: %v", err)
	}
	// Wall time passing must not refill the bucket while the clock stands still.
	time.Sleep(1100 * time.Millisecond)
	if _, err := g.Reactive(ctx, workorder.Plot{X: 1, Y: 0}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("frozen clock err = %v, want ErrRateLimited", err)
	}
	clk.Advance(time.Second)
	if _, err := g.Reactive(ctx, workorder.Plot{X: 1, Y: 0}); err != nil {
		t.Fatalf("after advance: %v", err)
	}
	if _, err := g.Reactive(ctx, workorder.Plot{X: 2, Y: 0}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second burst err = %v, want ErrRateLimited", err)
	}
}

func TestComponentsFloodFill(t *testing.T) {
	t.Parallel()
	plots := []workorder.Plot{
		{X: 5, Y: 5}, {X: 1, Y: 0}, {X: 0, Y: 0}, {X: 0, Y: 1},
		{X: 3, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2},
	}
	comps := Components(plots)
	wantSizes := []int{4, 1, 1, 1}
	if len(comps) != len(wantSizes) {
		t.Fatalf("components = %v", comps)
	}
	for i, n := range wantSizes {
		if len(comps[i]) != n {
			t.Fatalf("component %d = %v, want %d plots", i, comps[i], n)
		}
	}
	if comps[0][0] != (workorder.Plot{X: 0, Y: 0}) || comps[1][0] != (workorder.Plot{X: 3, Y: 0}) {
		t.Fatalf("seed order = %v", comps)
	}
}

func TestClassifySkipsOccupiedAndClaimed(t *testing.T) {
	t.Parallel()
	tiles := []farm.Tile{
		{Plot: workorder.Plot{X: 0}, Terrain: farm.TerrainSoil},
		{Plot: workorder.Plot{X: 1}, Terrain: farm.TerrainSoil, Occupied: true},
		{Plot: workorder.Plot{X: 2}, Terrain: farm.TerrainSoil},
	}
	got := Classify(tiles, map[workorder.Plot]string{{X: 2}: "wo_x"})
	if len(got[farm.NeedsTilling]) != 1 || got[farm.NeedsTilling][0] != (workorder.Plot{X: 0}) {
		t.Fatalf("Classify() = %v", got)
	}
}

func TestDeadlineScaling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		plots int
		want  time.Duration
	}{
		{plots: 3, want: 48 * time.Hour},
		{plots: 6, want: time.Duration(float64(48*time.Hour) * 1.2)},
		{plots: 11, want: 72 * time.Hour},
	}
	for _, tt := range tests {
		if got := Deadline(farm.NeedsTilling, tt.plots); got != tt.want {
			t.Fatalf("Deadline(tilling, %d) = %v, want %v", tt.plots, got, tt.want)
		}
	}
}
