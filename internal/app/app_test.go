package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"farmcrew/internal/config"
	"farmcrew/internal/farm"
	"farmcrew/pkg/logx"
)

func boolp(v bool) *bool { return &v }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Scheduler: config.SchedulerConfig{Enabled: boolp(false)},
		Storage:   &config.StorageConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "farmcrew")},
		Farm:      config.FarmConfig{Width: 4, Height: 4, Terrain: "soil"},
		Crew:      []config.CrewMemberConfig{{ID: "w1", Role: "field_hand"}},
	}
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Build(cfg, WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScanToCompletionIsArchived(t *testing.T) {
	t.Parallel()
	a := startApp(t, testConfig(t))

	rep, err := a.Generator().Scan(context.Background(), "test")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rep.Created != 1 {
		t.Fatalf("scan created %d orders, want 1 (%+v)", rep.Created, rep)
	}

	eventually(t, "order completion", func() bool { return a.Manager().Metrics().Completed == 1 })
	tiles, _ := a.Grid().Tiles()
	for _, tile := range tiles {
		if tile.Terrain != farm.TerrainTilled {
			t.Fatalf("tile %v not tilled", tile.Plot)
		}
	}
	eventually(t, "archive write", func() bool { return a.Archive().Snapshot().Archived == 1 })
	recs, err := a.Archive().Recent(context.Background(), 5)
	if err != nil || len(recs) != 1 || recs[0].Kind != "tilling" {
		t.Fatalf("archive = %+v, %v", recs, err)
	}
	if len(a.Manager().ClaimedPlots()) != 0 {
		t.Fatal("claims not released after completion")
	}
}

func TestPassDayRunsManagerTick(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Crew = nil
	a := startApp(t, cfg)

	if _, err := a.Generator().Scan(context.Background(), "test"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n := len(a.Manager().Active()); n != 1 {
		t.Fatalf("active = %d, want 1", n)
	}
	if day := a.PassDay(); day != 1 {
		t.Fatalf("PassDay = %d, want 1", day)
	}
	// DayPassed also triggers a scan; the order still claims every plot so nothing new appears.
	time.Sleep(100 * time.Millisecond)
	if n := len(a.Manager().Active()); n != 1 {
		t.Fatalf("active after day = %d, want 1", n)
	}
}

func TestApplyFansOut(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := startApp(t, cfg)

	next := *cfg
	next.Manager.MaxActiveOrders = 7
	next.Manager.ConflictPolicy = "trim"
	next.Crew = []config.CrewMemberConfig{{ID: "w2", Role: "planter"}}
	a.Apply(context.Background(), &next)

	mc := a.Manager().Config()
	if mc.MaxActiveOrders != 7 || mc.ConflictPolicy != "trim" {
		t.Fatalf("manager config = %+v", mc)
	}
	members := a.Roster().Members()
	if len(members) != 1 || members[0].ID() != "w2" {
		t.Fatalf("roster after reload = %v", members)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{name: "notifier without chat", mutate: func(c *config.Config) { c.Notifier.Enabled = true; c.Telegram.Token = "t" }, want: "chat_id"},
		{name: "notifier without token", mutate: func(c *config.Config) { c.Notifier.Enabled = true; c.Notifier.ChatID = 1 }, want: "token"},
		{name: "sqlite without path", mutate: func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} }, want: "storage.path"},
		{name: "bad timezone", mutate: func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" }, want: "timezone"},
		{name: "bad day tick", mutate: func(c *config.Config) { c.Scheduler.DayTick = "every tuesday" }, want: "day_tick"},
		{name: "bad policy", mutate: func(c *config.Config) { c.Manager.ConflictPolicy = "merge" }, want: "conflict_policy"},
		{name: "duplicate crew", mutate: func(c *config.Config) {
			c.Crew = []config.CrewMemberConfig{{ID: "a", Role: "planter"}, {ID: "a", Role: "harvester"}}
		}, want: "duplicate"},
		{name: "unknown role", mutate: func(c *config.Config) { c.Crew = []config.CrewMemberConfig{{ID: "a", Role: "pilot"}} }, want: "role"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			tt.mutate(cfg)
			err := ValidateConfig(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("ValidateConfig err = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if err := ValidateConfig(context.Background(), &config.Config{}); err != nil {
		t.Fatalf("empty config should be valid: %v", err)
	}
}

func TestStopReasonFromSignal(t *testing.T) {
	t.Parallel()
	if got := StopReasonFromSignal(os.Interrupt); got != StopSIGINT {
		t.Fatalf("interrupt = %q", got)
	}
	if got := StopReasonFromSignal(syscall.SIGTERM); got != StopSIGTERM {
		t.Fatalf("sigterm = %q", got)
	}
	if got := StopReasonFromSignal(syscall.SIGHUP); got != StopUnknown {
		t.Fatalf("sighup = %q", got)
	}
}
