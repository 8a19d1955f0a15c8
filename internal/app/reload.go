package app

import (
	"context"
	"strings"
	"time"

	"farmcrew/internal/config"
	"farmcrew/pkg/logx"
)

// reloadLoop applies published configs until ctx ends. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.Apply(ctx, next)
		}
	}
}

// Apply fans a validated config out to every component. Sections that only take effect
// on restart are logged.
func (a *App) Apply(ctx context.Context, next *config.Config) {
	if next == nil {
		return
	}
	prev := a.cfg
	a.cfg = next
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if a.logs != nil {
		a.logs.Apply(mapLogging(next))
	}
	if mc, err := mapManagerConfig(next); err != nil {
		a.log.Warn("invalid manager config; keeping previous", logx.Err(err))
	} else {
		a.manager.Apply(mc)
	}
	if ic, err := mapIntegrationConfig(next); err != nil {
		a.log.Warn("invalid integration config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(ic)
	}
	if ec, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}
	if specs, err := mapCrew(next); err != nil {
		a.log.Warn("invalid crew config; keeping previous", logx.Err(err))
	} else {
		a.syncCrew(specs)
	}
	a.applyGenerator(next)
	a.applyScheduler(ctx, next)
	a.applyNotifier(ctx, next)

	a.log.Info("config reloaded", fields...)
}

func (a *App) applyGenerator(next *config.Config) {
	gc, every, err := mapGeneratorConfig(next)
	if err != nil {
		a.log.Warn("invalid generator config; keeping previous", logx.Err(err))
		return
	}
	a.gen.Apply(gc)
	// AddInterval upserts by name, so an unchanged interval is simply re-registered.
	if err := a.sched.AddInterval(scanScheduleName, every, every, true, a.scanJob); err != nil {
		a.log.Warn("scan schedule update failed", logx.Err(err))
	}
}

func (a *App) applyScheduler(ctx context.Context, next *config.Config) {
	sc, dayTick, err := mapSchedulerConfig(next)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(sc)
	if err := a.sched.AddSchedule(dayScheduleName, dayTick, 0, func(context.Context) error {
		a.PassDay()
		return nil
	}); err != nil {
		a.log.Warn("day tick schedule update failed", logx.Err(err))
	}
	switch {
	case wasEnabled && !sc.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && sc.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}

func (a *App) applyNotifier(ctx context.Context, next *config.Config) {
	nc, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if nc.Enabled && a.tg == nil {
		a.log.Warn("notifier enabled but no telegram sender was configured at startup; restart required")
		nc.Enabled = false
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(nc)
	switch {
	case wasEnabled && !nc.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && nc.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}
