package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"farmcrew/internal/app"
	"farmcrew/internal/clock"
	"farmcrew/internal/config"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	"farmcrew/internal/workorder"
)

type simOptions struct {
	width, height int
	days          int
	seed          uint64
	logLevel      string
	dataDir       string
	settle        time.Duration
}

func simulateCmd() *cobra.Command {
	opt := simOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the engine against a randomly seeded in-memory farm",
		Long: `Simulate builds an in-memory farm, staffs one crew member per role and advances a
manual clock one day at a time. Each day crops grow, resources decay, the generator
scans and the manager runs its day tick.

Examples:
  farmcrew simulate --days 10
  farmcrew simulate --width 24 --height 12 --seed 7 --data ./sim-data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.Context(), cmd.OutOrStdout(), opt)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opt.width, "width", 16, "farm width in plots")
	f.IntVar(&opt.height, "height", 16, "farm height in plots")
	f.IntVar(&opt.days, "days", 7, "days to simulate")
	f.Uint64Var(&opt.seed, "seed", 1, "random seed for the initial farm and daily drift")
	f.StringVar(&opt.logLevel, "log-level", "warn", "engine log level")
	f.StringVar(&opt.dataDir, "data", "", "archive closed orders to this directory (file store)")
	f.DurationVar(&opt.settle, "settle", 3*time.Second, "max wall time to wait for crews each day")
	return cmd
}

func simConfig(opt simOptions) *config.Config {
	off := false
	cfg := &config.Config{
		Logging:   config.LoggingConfig{Level: opt.logLevel},
		Scheduler: config.SchedulerConfig{Enabled: &off},
		Farm:      config.FarmConfig{Width: opt.width, Height: opt.height, Terrain: string(farm.TerrainGrass)},
	}
	for _, role := range workorder.AllRoles {
		cfg.Crew = append(cfg.Crew, config.CrewMemberConfig{ID: "sim_" + string(role), Role: string(role)})
	}
	if opt.dataDir != "" {
		cfg.Storage = &config.StorageConfig{Driver: "file", Path: opt.dataDir}
	}
	return cfg
}

func simulate(ctx context.Context, out io.Writer, opt simOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opt.width <= 0 || opt.height <= 0 || opt.days <= 0 {
		return fmt.Errorf("width, height and days must be positive")
	}

	clk := clock.NewManual(time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))
	a, err := app.Build(simConfig(opt), app.WithClock(clk))
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(opt.seed, opt.seed^0x9e3779b97f4a7c15))
	seedFarm(a.Grid(), rng)

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopAppStop)
	}()

	head := color.New(color.FgCyan, color.Bold)
	head.Fprintf(out, "farmcrew simulation %dx%d, %d days, seed %d\n", opt.width, opt.height, opt.days, opt.seed)

	for day := 1; day <= opt.days; day++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		matured := driftDay(a.Grid(), rng)
		clk.Advance(24 * time.Hour)
		for _, p := range matured {
			a.Bus().Publish(eventbus.CropReady{Plot: p})
		}
		a.PassDay()
		settle(ctx, a, opt.settle)
		printDay(out, day, a)
	}
	printSummary(out, a)
	return nil
}

// seedFarm lays out a mix of grass, bare soil and a few planted fields.
func seedFarm(g *farm.Grid, rng *rand.Rand) {
	tiles, err := g.Tiles()
	if err != nil {
		return
	}
	for _, t := range tiles {
		g.Update(t.Plot, func(t *farm.Tile) {
			t.Water = 0.3 + rng.Float64()*0.5
			t.Nutrients = 0.2 + rng.Float64()*0.6
			switch r := rng.Float64(); {
			case r < 0.35:
				t.Terrain = farm.TerrainGrass
			case r < 0.7:
				t.Terrain = farm.TerrainSoil
			default:
				t.Terrain = farm.TerrainTilled
				t.Crop = farm.DefaultCrop
				t.Stage = farm.StageSeedling
			}
		})
	}
}

// driftDay grows crops, dries the soil and lets pests and weeds spread. It returns the
// plots whose crops matured today.
func driftDay(g *farm.Grid, rng *rand.Rand) []workorder.Plot {
	tiles, err := g.Tiles()
	if err != nil {
		return nil
	}
	var matured []workorder.Plot
	for _, t := range tiles {
		g.Update(t.Plot, func(t *farm.Tile) {
			if farm.Grow(t) {
				matured = append(matured, t.Plot)
			}
			t.Water = max(t.Water-0.15-rng.Float64()*0.1, 0)
			if t.Terrain == farm.TerrainTilled {
				t.Nutrients = max(t.Nutrients-0.05, 0)
			}
			if t.HasCrop() {
				t.Pests = min(t.Pests+rng.Float64()*0.2, 1)
				t.Weeds = min(t.Weeds+rng.Float64()*0.15, 1)
			}
		})
	}
	return matured
}

// settle waits until no order is being worked and the metrics stop moving, or until limit.
func settle(ctx context.Context, a *app.App, limit time.Duration) {
	const tick = 20 * time.Millisecond
	deadline := time.Now().Add(limit)
	last := a.Manager().Metrics()
	quiet := 0
	for quiet < 3 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(tick):
		}
		cur := a.Manager().Metrics()
		if cur == last && !working(a) {
			quiet++
		} else {
			quiet = 0
		}
		last = cur
	}
}

func working(a *app.App) bool {
	active := a.Manager().Active()
	for i := range active {
		if active[i].Status() == workorder.StatusInProgress {
			return true
		}
	}
	return false
}

func printDay(out io.Writer, day int, a *app.App) {
	m := a.Manager().Metrics()
	pending := 0
	active := a.Manager().Active()
	for i := range active {
		if active[i].Status() == workorder.StatusPending {
			pending++
		}
	}
	fmt.Fprintf(out, "day %3d  created %s  completed %s  cancelled %s  active %d (pending %d)\n",
		day,
		color.BlueString("%4d", m.Created),
		color.GreenString("%4d", m.Completed),
		color.RedString("%4d", m.Cancelled),
		len(active), pending)
}

func printSummary(out io.Writer, a *app.App) {
	m := a.Manager().Metrics()
	color.New(color.Bold).Fprintln(out, "summary")
	fmt.Fprintf(out, "  orders created     %d\n", m.Created)
	fmt.Fprintf(out, "  orders completed   %s\n", color.GreenString("%d", m.Completed))
	fmt.Fprintf(out, "  orders cancelled   %s\n", color.RedString("%d", m.Cancelled))
	fmt.Fprintf(out, "  escalations        %s\n", color.YellowString("%d", m.Escalations))
	fmt.Fprintf(out, "  auto assigned      %d\n", m.AutoAssigned)
	fmt.Fprintf(out, "  avg efficiency     %.2f\n", m.AvgEfficiency)
	if m.AvgCompletionTime > 0 {
		fmt.Fprintf(out, "  avg completion     %s\n", m.AvgCompletionTime.Round(time.Second))
	}

	tiles, err := a.Grid().Tiles()
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, t := range tiles {
		key := string(t.Terrain)
		if t.HasCrop() {
			key = "crop:" + string(t.Stage)
		}
		counts[key]++
	}
	fmt.Fprintln(out, "  farm")
	for _, k := range []string{"grass", "soil", "tilled", "crop:seed", "crop:germination", "crop:seedling", "crop:vegetative", "crop:flowering", "crop:mature"} {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(out, "    %-18s %s\n", k, color.HiBlackString("%d", n))
		}
	}
	if snap := a.Archive().Snapshot(); snap.Enabled {
		fmt.Fprintf(out, "  archived           %d\n", snap.Archived)
	}
}
