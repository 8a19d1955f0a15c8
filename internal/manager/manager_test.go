package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"farmcrew/internal/clock"
	"farmcrew/internal/crew"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	"farmcrew/internal/skills"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

var t0 = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

type fixture struct {
	m      *Manager
	clk    *clock.Manual
	grid   *farm.Grid
	roster *crew.Roster
}

func newFixture(t *testing.T, cfg Config, bus eventbus.Bus, members ...*crew.Member) *fixture {
	t.Helper()
	f := &fixture{
		clk:    clock.NewManual(t0),
		grid:   farm.NewGrid(8, 8, farm.Tile{Terrain: farm.TerrainSoil}),
		roster: crew.NewRoster(nil),
	}
	for _, mem := range members {
		f.roster.Add(mem)
	}
	f.m = New(cfg, f.grid, f.roster, logx.Nop(), bus, WithClock(f.clk))
	ctx, cancel := context.WithCancel(context.Background())
	f.m.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		f.m.Stop(stopCtx)
		cancel()
	})
	return f
}

func fieldHand(id string) *crew.Member {
	return crew.NewMember(id, id, skills.NewProfile(workorder.RoleFieldHand))
}

func novice(id string) *crew.Member {
	return crew.NewMember(id, id, skills.NewProfile(workorder.RolePlanter).WithLevel(workorder.Tilling, skills.Novice))
}

func plain(id string) *crew.Member {
	return crew.NewMember(id, id, skills.Profile{})
}

// row returns n plots starting at (x,y) going right.
func row(x, y, n int) []workorder.Plot {
	out := make([]workorder.Plot, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, workorder.Plot{X: x + i, Y: y})
	}
	return out
}

func till(g *farm.Grid, plots []workorder.Plot) {
	for _, p := range plots {
		g.Update(p, func(t *farm.Tile) { t.Terrain = farm.TerrainTilled })
	}
}

func TestCreateAutoAssignsBestWorker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, novice("b"), fieldHand("a"))
	ctx := context.Background()

	o, err := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 4), AutoAssign: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(o.AssignedWorkers) != 1 || o.AssignedWorkers[0] != "a" {
		t.Fatalf("AssignedWorkers = %v, want [a]", o.AssignedWorkers)
	}
	if o.Priority != workorder.Normal || o.Status() != workorder.StatusAssigned {
		t.Fatalf("priority=%v status=%v", o.Priority, o.Status())
	}
	if want := workorder.EstimateDuration(workorder.Tilling, 4, 1.25); o.EstimatedDuration != want {
		t.Fatalf("EstimatedDuration = %v, want %v", o.EstimatedDuration, want)
	}
	for _, p := range o.Plots {
		if owner, ok := f.m.PlotOwner(p); !ok || owner != o.ID {
			t.Fatalf("PlotOwner(%v) = %q,%v, want %q", p, owner, ok, o.ID)
		}
	}
	if got := f.m.WorkerOrders("a"); len(got) != 1 || got[0].ID != o.ID {
		t.Fatalf("WorkerOrders(a) = %v", got)
	}
	met := f.m.Metrics()
	if met.Created != 1 || met.AutoAssigned != 1 || met.Active != 1 || met.Unassigned != 0 {
		t.Fatalf("metrics = %+v", met)
	}
}

func TestAutoAssignBalancesWorkload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"), plain("w2"))
	ctx := context.Background()

	want := []string{"w1", "w2", "w1"}
	for i, w := range want {
		o, err := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, i, 2), AutoAssign: true})
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if len(o.AssignedWorkers) != 1 || o.AssignedWorkers[0] != w {
			t.Fatalf("order #%d assigned %v, want %s", i, o.AssignedWorkers, w)
		}
	}
}

func TestCreateWithoutWorkersStaysPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	o, err := f.m.Create(context.Background(), Request{Kind: workorder.Planting, Plots: row(0, 0, 1), AutoAssign: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Status() != workorder.StatusPending {
		t.Fatalf("status = %v, want pending", o.Status())
	}
	if got := f.m.Metrics().Unassigned; got != 1 {
		t.Fatalf("Unassigned = %d, want 1", got)
	}
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	tests := []struct {
		name string
		req  Request
	}{
		{name: "unknown kind", req: Request{Kind: "juggling", Plots: row(0, 0, 1)}},
		{name: "no plots", req: Request{Kind: workorder.Tilling}},
		{name: "bad priority", req: Request{Kind: workorder.Tilling, Plots: row(0, 0, 1), Priority: 9}},
		{name: "negative deadline", req: Request{Kind: workorder.Tilling, Plots: row(0, 0, 1), Deadline: -time.Hour}},
	}
	for _, tt := range tests {
		if _, err := f.m.Create(ctx, tt.req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: err = %v, want ErrInvalidRequest", tt.name, err)
		}
	}
}

func TestCreateDeduplicatesPlots(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	p := workorder.Plot{X: 1, Y: 1}
	o, err := f.m.Create(context.Background(), Request{Kind: workorder.Tilling, Plots: []workorder.Plot{p, p, p}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(o.Plots) != 1 {
		t.Fatalf("plots = %v, want one", o.Plots)
	}
}

func TestCapacityLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxActiveOrders: 2}, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, i, 1)}); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if _, err := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 5, 1)}); !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}
	if got := f.m.Metrics().RejectedCapacity; got != 1 {
		t.Fatalf("RejectedCapacity = %d, want 1", got)
	}
	if got := len(f.m.Active()); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
}

func TestConflictPolicies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy    ConflictPolicy
		wantErr   bool
		wantPlots int
	}{
		{policy: ConflictReject, wantErr: true},
		{policy: ConflictTrim, wantPlots: 2},
		{policy: ConflictWarn, wantPlots: 4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{ConflictPolicy: tt.policy}, nil)
			ctx := context.Background()
			first, err := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 2)})
			if err != nil {
				t.Fatalf("first Create: %v", err)
			}
			second, err := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 0, 4)})
			if tt.wantErr {
				var cerr *ConflictError
				if !errors.As(err, &cerr) || !errors.Is(err, ErrPlotConflict) {
					t.Fatalf("err = %v, want ConflictError", err)
				}
				if len(cerr.Plots) != 2 || cerr.Owners[cerr.Plots[0]] != first.ID {
					t.Fatalf("conflict = %+v", cerr)
				}
				if got := f.m.Metrics().RejectedConflict; got != 1 {
					t.Fatalf("RejectedConflict = %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("second Create: %v", err)
			}
			if len(second.Plots) != tt.wantPlots {
				t.Fatalf("second plots = %v, want %d", second.Plots, tt.wantPlots)
			}
			// The first claimant keeps its plots under every policy.
			if owner, _ := f.m.PlotOwner(workorder.Plot{X: 0, Y: 0}); owner != first.ID {
				t.Fatalf("owner of (0,0) = %q, want %q", owner, first.ID)
			}
			if owner, _ := f.m.PlotOwner(workorder.Plot{X: 3, Y: 0}); owner != second.ID {
				t.Fatalf("owner of (3,0) = %q, want %q", owner, second.ID)
			}
			if got := f.m.Metrics().ConflictsDetected; got != 1 {
				t.Fatalf("ConflictsDetected = %d", got)
			}
		})
	}
}

func TestTrimWithNothingLeftIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ConflictPolicy: ConflictTrim}, nil)
	ctx := context.Background()
	if _, err := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 2)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 2)}); !errors.Is(err, ErrPlotConflict) {
		t.Fatalf("err = %v, want ErrPlotConflict", err)
	}
}

func TestWarnPolicyReleaseKeepsOtherClaims(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ConflictPolicy: ConflictWarn}, nil)
	ctx := context.Background()
	first, _ := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 2)})
	second, err := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 0, 3)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.m.Cancel(ctx, second.ID, "test"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if owner, ok := f.m.PlotOwner(workorder.Plot{X: 0, Y: 0}); !ok || owner != first.ID {
		t.Fatalf("owner = %q,%v, want %q", owner, ok, first.ID)
	}
	if _, ok := f.m.PlotOwner(workorder.Plot{X: 2, Y: 0}); ok {
		t.Fatal("(2,0) should be released")
	}
}

func TestMultiWorkerSplitFollowsWeights(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"), plain("w2"))
	ctx := context.Background()

	plots := append(row(0, 0, 3), append(row(0, 1, 3), row(0, 2, 3)...)...)
	o, err := f.m.Create(ctx, Request{Kind: workorder.Harvesting, Plots: plots})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.m.Assign(ctx, o.ID, "w1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := f.m.AssignAdditionalWorker(ctx, o.ID, "w2", skills.Weights{"w1": 1, "w2": 2}); err != nil {
		t.Fatalf("AssignAdditionalWorker: %v", err)
	}

	got, _ := f.m.Get(o.ID)
	if n1, n2 := len(got.Allocations["w1"]), len(got.Allocations["w2"]); n1 != 3 || n2 != 6 {
		t.Fatalf("allocation sizes = %d/%d, want 3/6", n1, n2)
	}
	seen := map[workorder.Plot]string{}
	for w, ps := range got.Allocations {
		for _, p := range ps {
			if prev, dup := seen[p]; dup {
				t.Fatalf("plot %v allocated to %s and %s", p, prev, w)
			}
			seen[p] = w
		}
	}
	if len(seen) != len(plots) {
		t.Fatalf("allocated %d plots, want %d", len(seen), len(plots))
	}
	if want := workorder.EstimateDuration(workorder.Harvesting, 6, 1.0); got.EstimatedDuration != want {
		t.Fatalf("EstimatedDuration = %v, want %v", got.EstimatedDuration, want)
	}
	if err := f.m.AssignAdditionalWorker(ctx, o.ID, "w2", nil); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("re-add err = %v", err)
	}
}

func TestRemoveWorkerRedistributesThenReturnsToPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"), plain("w2"), plain("w3"))
	ctx := context.Background()
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 0, 6)})
	for _, w := range []string{"w1", "w2", "w3"} {
		if err := f.m.AssignAdditionalWorker(ctx, o.ID, w, nil); err != nil {
			t.Fatalf("add %s: %v", w, err)
		}
	}
	if err := f.m.RemoveWorker(ctx, o.ID, "w2"); err != nil {
		t.Fatalf("RemoveWorker: %v", err)
	}
	got, _ := f.m.Get(o.ID)
	if len(got.Allocations["w1"]) != 3 || len(got.Allocations["w3"]) != 3 || len(got.Allocations["w2"]) != 0 {
		t.Fatalf("allocations = %v", got.Allocations)
	}
	if ids := f.m.Snapshot().WorkerOrderIDs("w2"); len(ids) != 0 {
		t.Fatalf("w2 still linked to %v", ids)
	}

	_ = f.m.RemoveWorker(ctx, o.ID, "w1")
	got, _ = f.m.Get(o.ID)
	if len(got.AssignedWorkers) != 1 || got.Allocations != nil {
		t.Fatalf("single worker order = %+v", got)
	}
	if err := f.m.RemoveWorker(ctx, o.ID, "w3"); err != nil {
		t.Fatalf("RemoveWorker last: %v", err)
	}
	got, _ = f.m.Get(o.ID)
	if got.Status() != workorder.StatusPending || !got.AssignedAt.IsZero() {
		t.Fatalf("status = %v assignedAt=%v, want pending", got.Status(), got.AssignedAt)
	}
	if err := f.m.RemoveWorker(ctx, o.ID, "w3"); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}
}

func TestAssignErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"))
	ctx := context.Background()
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 1)})
	if err := f.m.Assign(ctx, o.ID, "ghost"); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("err = %v, want ErrUnknownWorker", err)
	}
	if err := f.m.Assign(ctx, "wo_missing", "w1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := f.m.Assign(ctx, o.ID, "w1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := f.m.Assign(ctx, o.ID, "w1"); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestCompleteRequiresLiveState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, fieldHand("a"))
	ctx := context.Background()
	plots := row(0, 0, 4)
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: plots, AutoAssign: true})
	if err := f.m.MarkStarted(ctx, o.ID, "a"); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}

	till(f.grid, plots[:1])
	_, err := f.m.Complete(ctx, o.ID)
	var inc *IncompleteError
	if !errors.As(err, &inc) || len(inc.Pending) != 3 {
		t.Fatalf("err = %v, want IncompleteError with 3 pending", err)
	}
	if got, _ := f.m.Get(o.ID); got.Progress != 0.25 {
		t.Fatalf("progress = %v, want 0.25", got.Progress)
	}

	till(f.grid, plots)
	f.clk.Advance(o.EstimatedDuration)
	done, err := f.m.Complete(ctx, o.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status() != workorder.StatusCompleted || done.Progress != 1 {
		t.Fatalf("completed order = %+v", done)
	}
	if _, ok := f.m.PlotOwner(plots[0]); ok {
		t.Fatal("plots should be released")
	}
	if ids := f.m.Snapshot().WorkerOrderIDs("a"); len(ids) != 0 {
		t.Fatalf("worker still linked: %v", ids)
	}
	met := f.m.Metrics()
	if met.Completed != 1 || met.AvgEfficiency != 1.0 || met.AvgCompletionTime != o.EstimatedDuration {
		t.Fatalf("metrics = %+v", met)
	}
	if _, err := f.m.Complete(ctx, o.ID); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("second Complete err = %v, want ErrOrderClosed", err)
	}
}

func TestCancelReleasesAndIsTerminal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"))
	ctx := context.Background()
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Planting, Plots: row(0, 0, 2), AutoAssign: true})
	if err := f.m.Cancel(ctx, o.ID, "weather"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, ok := f.m.Get(o.ID)
	if !ok || got.Status() != workorder.StatusCancelled || got.CancelReason != "weather" {
		t.Fatalf("cancelled order = %+v ok=%v", got, ok)
	}
	if len(f.m.ClaimedPlots()) != 0 {
		t.Fatalf("claims = %v, want none", f.m.ClaimedPlots())
	}
	if err := f.m.Cancel(ctx, o.ID, "again"); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("err = %v, want ErrOrderClosed", err)
	}
	if err := f.m.ReportProgress(ctx, o.ID, 0.5); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("err = %v, want ErrOrderClosed", err)
	}
	// Freed plots can be claimed again.
	if _, err := f.m.Create(ctx, Request{Kind: workorder.Planting, Plots: row(0, 0, 2)}); err != nil {
		t.Fatalf("re-create: %v", err)
	}
}

func TestReportProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 0, 1)})
	for _, p := range []float64{0.4, 0.2, 7} {
		_ = f.m.ReportProgress(ctx, o.ID, p)
	}
	if got, _ := f.m.Get(o.ID); got.Progress != 1 {
		t.Fatalf("progress = %v, want 1", got.Progress)
	}
}

func TestEscalationIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	late, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 0, 1), Priority: workorder.Low, Deadline: time.Hour})
	crit, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 1, 1), Priority: workorder.Critical, Deadline: time.Hour})
	open, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 2, 1)})

	if n, _ := f.m.EscalateOverdue(ctx); n != 0 {
		t.Fatalf("escalated %d before deadline", n)
	}
	f.clk.Advance(2 * time.Hour)
	if n, _ := f.m.EscalateOverdue(ctx); n != 1 {
		t.Fatalf("first pass escalated %d, want 1", n)
	}
	if n, _ := f.m.EscalateOverdue(ctx); n != 0 {
		t.Fatalf("second pass escalated %d, want 0", n)
	}
	got, _ := f.m.Get(late.ID)
	if got.Priority != workorder.Critical || !got.Escalated || got.InitialPriority != workorder.Low {
		t.Fatalf("escalated order = %+v", got)
	}
	if got, _ := f.m.Get(crit.ID); got.Escalated {
		t.Fatal("critical order must not be marked escalated")
	}
	if got, _ := f.m.Get(open.ID); got.Priority != workorder.Normal {
		t.Fatal("order without deadline must not escalate")
	}
	if got := f.m.Metrics().Escalations; got != 1 {
		t.Fatalf("Escalations = %d, want 1", got)
	}
}

func TestHistoryRetention(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Retention: 24 * time.Hour}, nil)
	ctx := context.Background()
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 1)})
	_ = f.m.Cancel(ctx, o.ID, "")

	f.clk.Advance(23 * time.Hour)
	rep, err := f.m.DayTick(ctx)
	if err != nil || rep.Purged != 0 {
		t.Fatalf("DayTick = %+v, %v; want nothing purged", rep, err)
	}
	f.clk.Advance(2 * time.Hour)
	if n, _ := f.m.PurgeHistory(ctx); n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, ok := f.m.Get(o.ID); ok {
		t.Fatal("purged order still visible")
	}
	if err := f.m.Cancel(ctx, o.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after purge", err)
	}
}

func TestWorkerFinishedFlagsThenVerifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"), plain("w2"))
	ctx := context.Background()
	plots := row(0, 0, 4)
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: plots})
	_ = f.m.AssignAdditionalWorker(ctx, o.ID, "w1", nil)
	_ = f.m.AssignAdditionalWorker(ctx, o.ID, "w2", nil)

	till(f.grid, plots[:2])
	out, err := f.m.WorkerTaskFinished(ctx, o.ID, "w1", 2)
	if err != nil || out.Completed || out.AwaitingVerification || out.Pending != 2 {
		t.Fatalf("first finish = %+v, %v", out, err)
	}
	out, err = f.m.WorkerTaskFinished(ctx, o.ID, "w2", 2)
	if err != nil || !out.AwaitingVerification {
		t.Fatalf("second finish = %+v, %v; want awaiting verification", out, err)
	}

	rep, _ := f.m.DayTick(ctx)
	if rep.Verified != 0 {
		t.Fatalf("verified %d with plots pending", rep.Verified)
	}
	till(f.grid, plots)
	rep, _ = f.m.DayTick(ctx)
	if rep.Verified != 1 {
		t.Fatalf("verified %d, want 1", rep.Verified)
	}
	if got, _ := f.m.Get(o.ID); got.Status() != workorder.StatusCompleted {
		t.Fatalf("status = %v, want completed", got.Status())
	}
}

func TestWorkerFinishedWithUnavailableFarm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil, plain("w1"))
	ctx := context.Background()
	o, _ := f.m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 1), AutoAssign: true})
	f.grid.SetUnavailable(true)
	if _, err := f.m.WorkerTaskFinished(ctx, o.ID, "w1", 1); !errors.Is(err, ErrFarmUnavailable) {
		t.Fatalf("err = %v, want ErrFarmUnavailable", err)
	}
	if _, err := f.m.WorkerTaskFinished(ctx, o.ID, "w9", 1); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}
}

func TestAssignPendingMostUrgentFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	low, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 0, 1), Priority: workorder.Low, AutoAssign: true})
	high, _ := f.m.Create(ctx, Request{Kind: workorder.Watering, Plots: row(0, 1, 1), Priority: workorder.High, AutoAssign: true})
	f.roster.Add(plain("w1"))
	f.roster.Add(plain("w2"))

	n, err := f.m.AssignPending(ctx)
	if err != nil || n != 2 {
		t.Fatalf("AssignPending = %d, %v; want 2", n, err)
	}
	if got, _ := f.m.Get(high.ID); got.AssignedWorkers[0] != "w1" {
		t.Fatalf("high priority got %v, want w1", got.AssignedWorkers)
	}
	if got, _ := f.m.Get(low.ID); got.AssignedWorkers[0] != "w2" {
		t.Fatalf("low priority got %v, want w2", got.AssignedWorkers)
	}
}

func TestSignalsFollowSnapshot(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	f := newFixture(t, Config{}, bus, plain("w1"))

	o, err := f.m.Create(context.Background(), Request{Kind: workorder.Planting, Plots: row(0, 0, 2), AutoAssign: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := []string{"work_order_created", "work_order_assigned"}
	for _, name := range want {
		select {
		case e := <-events:
			if e.Signal.Name() != name {
				t.Fatalf("signal = %s, want %s", e.Signal.Name(), name)
			}
			if _, ok := f.m.Get(o.ID); !ok {
				t.Fatal("signal observed before snapshot")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestWorkerFinishedSignalCompletesOrder(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	grid := farm.NewGrid(4, 4, farm.Tile{Terrain: farm.TerrainSoil})
	worker := crew.NewMember("w1", "w1", skills.Profile{}, crew.WithBus(bus),
		crew.WithExec(func(_ context.Context, _ *crew.Member, _ workorder.TaskKind, plots []workorder.Plot, _ string) error {
			till(grid, plots)
			return nil
		}))
	roster := crew.NewRoster(nil)
	roster.Add(worker)
	m := New(Config{}, grid, roster, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		m.Stop(context.Background())
		cancel()
	}()

	o, err := m.Create(ctx, Request{Kind: workorder.Tilling, Plots: row(0, 0, 3), AutoAssign: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := worker.Execute(ctx, o.Kind, o.PlotsFor("w1"), o.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, _ := m.Get(o.ID); got.Status() == workorder.StatusCompleted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("order not completed from worker_task_finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoppedManagerRefusesOps(t *testing.T) {
	t.Parallel()
	m := New(Config{}, nil, nil, logx.Nop(), nil)
	if _, err := m.Create(context.Background(), Request{Kind: workorder.Tilling, Plots: row(0, 0, 1)}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
