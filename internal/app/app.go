// Package app wires the scheduling engine into a process: it builds every component once
// from the config, starts them in dependency order and fans config reloads out to them.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"farmcrew/internal/archive"
	"farmcrew/internal/clock"
	"farmcrew/internal/config"
	"farmcrew/internal/crew"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	"farmcrew/internal/generator"
	"farmcrew/internal/integration"
	"farmcrew/internal/manager"
	"farmcrew/internal/notifier"
	rtsup "farmcrew/internal/runtime/supervisor"
	"farmcrew/internal/storage"
	"farmcrew/internal/task/engine"
	"farmcrew/internal/task/scheduler"
	"farmcrew/internal/transport/telegram"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

const (
	scanScheduleName = "generator.scan"
	dayScheduleName  = "farm.day_tick"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	clk  clock.Clock

	bus    *eventbus.MemBus
	store  storage.Store
	state  farm.State
	grid   *farm.Grid
	roster *crew.Roster
	tg     *telegram.Sender

	engine  *engine.Service
	manager *manager.Manager
	router  *integration.Router
	gen     *generator.Service
	archive *archive.Service
	notif   *notifier.Service
	sched   *scheduler.Service

	day atomic.Int64
}

type options struct {
	state  farm.State
	clock  clock.Clock
	logger *logx.Logger
}

type Option func(*options)

// WithState plugs in an external farm-state provider instead of the in-memory grid.
// Workers then report completion without touching tiles.
func WithState(s farm.State) Option { return func(o *options) { o.state = s } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger skips building a logging service from the config.
func WithLogger(l logx.Logger) Option { return func(o *options) { o.logger = &l } }

// New loads the config file and builds the app. The file is watched after Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := Build(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// Build constructs every component from cfg without a config file.
func Build(cfg *config.Config, opts ...Option) (*App, error) {
	if err := ValidateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	a := &App{cfg: cfg, clk: clock.OrReal(o.clock)}
	if o.logger != nil {
		a.log = o.logger.OrNop()
	} else {
		a.logs, a.log = logx.New(mapLogging(cfg), nil)
	}

	tgCfg, tgOn, _ := mapTelegramConfig(cfg)
	if tgOn {
		tg, err := telegram.New(tgCfg, a.log)
		if err != nil {
			return nil, err
		}
		a.tg = tg
		if a.logs != nil {
			a.logs.SetAlertSender(tg)
		}
	}
	log := a.log.With(logx.String("comp", "app"))

	a.bus = eventbus.NewWithClock(a.clk.Now)

	if sc, enabled, _ := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, a.log)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.state = o.state
	if a.state == nil {
		w, h, fill := mapFarm(cfg)
		a.grid = farm.NewGrid(w, h, fill)
		a.state = a.grid
	}
	a.roster = crew.NewRoster(a.bus)
	specs, _ := mapCrew(cfg)
	a.syncCrew(specs)

	engCfg, _ := mapTaskEngineConfig(cfg)
	a.engine = engine.New(engCfg, a.log)

	mgrCfg, _ := mapManagerConfig(cfg)
	a.manager = manager.New(mgrCfg, a.state, a.roster, a.log, a.bus, manager.WithClock(a.clk))

	intCfg, _ := mapIntegrationConfig(cfg)
	a.router = integration.New(intCfg, a.state, a.manager, a.roster, a.engine, a.bus, a.log)

	genCfg, _, _ := mapGeneratorConfig(cfg)
	a.gen = generator.New(genCfg, a.state, a.manager, a.bus, a.log, generator.WithClock(a.clk))

	a.archive = archive.New(a.store, a.manager, a.bus, a.log)

	ncfg, _ := mapNotifierConfig(cfg)
	var sender notifier.Sender
	if a.tg != nil {
		sender = a.tg
	}
	a.notif = notifier.New(ncfg, sender, a.bus, a.store, a.log)

	schedCfg, _, _ := mapSchedulerConfig(cfg)
	a.sched = scheduler.New(schedCfg, a.engine, a.log)
	if err := a.registerSchedules(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// syncCrew makes the roster match specs, keeping unchanged members. Members of a grid-backed farm apply their work
// to the grid before reporting completion.
func (a *App) syncCrew(specs []crewSpec) {
	want := map[string]bool{}
	for _, s := range specs {
		want[s.id] = true
		if w, ok := a.roster.Lookup(s.id); ok {
			if m, ok := w.(*crew.Member); ok && m.Name() == s.name && m.Profile().PrimaryRole == s.profile.PrimaryRole {
				continue
			}
		}
		opts := []crew.MemberOption{crew.WithBus(a.bus)}
		if a.grid != nil {
			opts = append(opts, crew.WithExec(gridExec(a.grid)))
		}
		a.roster.Add(crew.NewMember(s.id, s.name, s.profile, opts...))
	}
	for _, m := range a.roster.Members() {
		if !want[m.ID()] {
			a.roster.Remove(m.ID())
		}
	}
}

func gridExec(g *farm.Grid) crew.ExecFunc {
	return func(ctx context.Context, _ *crew.Member, kind workorder.TaskKind, plots []workorder.Plot, _ string) error {
		for _, p := range plots {
			if err := ctx.Err(); err != nil {
				return err
			}
			g.Update(p, func(t *farm.Tile) { farm.Work(kind, t) })
		}
		return nil
	}
}

func (a *App) registerSchedules(cfg *config.Config) error {
	_, every, _ := mapGeneratorConfig(cfg)
	if err := a.sched.AddInterval(scanScheduleName, every, every, true, a.scanJob); err != nil {
		return fmt.Errorf("schedule %s: %w", scanScheduleName, err)
	}
	_, dayTick, _ := mapSchedulerConfig(cfg)
	if err := a.sched.AddSchedule(dayScheduleName, dayTick, 0, func(context.Context) error {
		a.PassDay()
		return nil
	}); err != nil {
		return fmt.Errorf("schedule %s: %w", dayScheduleName, err)
	}
	return nil
}

func (a *App) scanJob(ctx context.Context) error {
	_, err := a.gen.Scan(ctx, "interval")
	switch {
	case err == nil, errors.Is(err, generator.ErrDisabled):
		return nil
	case errors.Is(err, generator.ErrStateUnavailable):
		// The next interval retries; an immediate retry would see the same provider.
		return engine.NoRetry(err)
	default:
		return err
	}
}

// PassDay publishes the next DayPassed signal and returns its day number.
func (a *App) PassDay() int {
	day := int(a.day.Add(1))
	a.bus.Publish(eventbus.DayPassed{Day: day, At: a.clk.Now()})
	return day
}

func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Bus() *eventbus.MemBus         { return a.bus }
func (a *App) Manager() *manager.Manager     { return a.manager }
func (a *App) Router() *integration.Router   { return a.router }
func (a *App) Generator() *generator.Service { return a.gen }
func (a *App) Archive() *archive.Service     { return a.archive }
func (a *App) Roster() *crew.Roster          { return a.roster }
func (a *App) Engine() *engine.Service       { return a.engine }
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Grid is the in-memory farm, or nil when an external state provider is wired.
func (a *App) Grid() *farm.Grid { return a.grid }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings components up in dependency order: engine, manager, integration bridge,
// generator, archive, notifier, scheduler, then the config watcher.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.engine.Start(c)
	a.manager.Start(c)
	a.router.Start(c)
	a.gen.Start(c)
	a.archive.Start(c)
	if a.notif.Enabled() {
		a.notif.Start(c)
	}
	if a.sched.Enabled() {
		a.sched.Start(c)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Signal.Name()), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(ValidateConfig)
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
		a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	}

	a.log.Info("app started",
		logx.Int("crew", len(a.roster.Members())),
		logx.Bool("storage", a.store != nil),
		logx.Bool("telegram", a.tg != nil),
	)
	return nil
}

// Stop shuts components down in reverse order, each step bounded so one component cannot
// stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "generator", time.Second, func(c context.Context) error { a.gen.Stop(c); return nil })
	a.step(ctx, "integration", time.Second, func(c context.Context) error { a.router.Stop(c); return nil })
	a.step(ctx, "taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "manager", 2*time.Second, func(c context.Context) error { a.manager.Stop(c); return nil })
	a.step(ctx, "archive", time.Second, func(c context.Context) error { a.archive.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn with an upper bound that never extends the caller's deadline. A step that
// overruns is logged and left to finish in the background.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
