package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"farmcrew/internal/config"
	"farmcrew/internal/farm"
	"farmcrew/internal/generator"
	"farmcrew/internal/integration"
	"farmcrew/internal/manager"
	"farmcrew/internal/notifier"
	"farmcrew/internal/skills"
	"farmcrew/internal/storage"
	"farmcrew/internal/task/engine"
	"farmcrew/internal/task/scheduler"
	"farmcrew/internal/transport/telegram"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

const (
	defaultScanInterval = 60 * time.Second
	defaultDayTick      = "24h"
	defaultFarmSize     = 32
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: config.BoolOr(cfg.Logging.Console, true),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapManagerConfig(cfg *config.Config) (manager.Config, error) {
	mc := cfg.Manager
	policy, err := manager.ParseConflictPolicy(mc.ConflictPolicy)
	if err != nil {
		return manager.Config{}, fmt.Errorf("manager.conflict_policy: %w", err)
	}
	retention, err := config.ParseDurationOrDefault("manager.retention", mc.Retention, manager.DefaultRetention)
	if err != nil {
		return manager.Config{}, err
	}
	deadline, err := config.ParseDurationField("manager.default_deadline", mc.DefaultDeadline)
	if err != nil {
		return manager.Config{}, err
	}
	if mc.MaxActiveOrders < 0 {
		return manager.Config{}, errors.New("manager.max_active_orders must be >= 0")
	}
	return manager.Config{
		MaxActiveOrders: mc.MaxActiveOrders,
		Retention:       retention,
		ConflictPolicy:  policy,
		DefaultDeadline: deadline,
	}, nil
}

// mapGeneratorConfig also returns the scan interval, which the scheduler owns.
func mapGeneratorConfig(cfg *config.Config) (generator.Config, time.Duration, error) {
	gc := cfg.Generator
	every, err := config.ParseDurationOrDefault("generator.scan_interval", gc.ScanInterval, defaultScanInterval)
	if err != nil {
		return generator.Config{}, 0, err
	}
	reactive, err := config.ParseDurationOrDefault("generator.reactive_deadline", gc.ReactiveDeadline, generator.DefaultReactiveDeadline)
	if err != nil {
		return generator.Config{}, 0, err
	}
	if gc.MinPlotsForOrder < 0 {
		return generator.Config{}, 0, errors.New("generator.min_plots_for_order must be >= 0")
	}
	return generator.Config{
		Enabled:            config.BoolOr(gc.Enabled, true),
		MinPlotsForOrder:   gc.MinPlotsForOrder,
		AutoAssign:         config.BoolOr(gc.AutoAssign, true),
		ReactiveHarvest:    config.BoolOr(gc.ReactiveHarvest, true),
		ReactiveDeadline:   reactive,
		ReactiveRatePerSec: gc.ReactiveRatePerSec,
	}, every, nil
}

func mapIntegrationConfig(cfg *config.Config) (integration.Config, error) {
	timeout, err := config.ParseDurationOrDefault("integration.execute_timeout", cfg.Integration.ExecuteTimeout, integration.DefaultExecuteTimeout)
	if err != nil {
		return integration.Config{}, err
	}
	return integration.Config{
		UseWorkOrders:  config.BoolOr(cfg.Integration.UseWorkOrders, true),
		ExecuteTimeout: timeout,
	}, nil
}

// mapSchedulerConfig also returns the normalized day tick schedule.
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, string, error) {
	sc := cfg.Scheduler
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, "", fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	dayTick := strings.TrimSpace(sc.DayTick)
	if dayTick == "" {
		dayTick = defaultDayTick
	}
	if _, err := scheduler.ParseSchedule(dayTick); err != nil {
		return scheduler.Config{}, "", fmt.Errorf("scheduler.day_tick: %w", err)
	}
	return scheduler.Config{Enabled: config.BoolOr(sc.Enabled, true), Timezone: sc.Timezone}, dayTick, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	tc := cfg.TaskEngine
	if tc.Workers < 0 || tc.QueueSize < 0 || tc.HistorySize < 0 || tc.RetryMax < 0 {
		return engine.Config{}, errors.New("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
	}
	timeout, err := config.ParseDurationField("task_engine.default_timeout", tc.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	retryMax := tc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return engine.Config{
		Enabled:        true,
		Workers:        tc.Workers,
		QueueSize:      tc.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    tc.HistorySize,
		RetryMax:       retryMax,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	events, err := notifier.ParseEvents(nc.Events)
	if err != nil {
		return notifier.Config{}, fmt.Errorf("notifier.events: %w", err)
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.Enabled && nc.ChatID == 0 {
		return notifier.Config{}, errors.New("notifier.chat_id is required when notifier.enabled is true")
	}
	if nc.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return notifier.Config{}, errors.New("telegram.token is required when notifier.enabled is true")
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Events:          events,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     window,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}

// mapTelegramConfig reports false when no bot is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	if token == "" || cfg.Notifier.ChatID == 0 {
		return telegram.Config{}, false, nil
	}
	return telegram.Config{
		Token:       token,
		ChatID:      cfg.Notifier.ChatID,
		ThreadID:    cfg.Notifier.ThreadID,
		PollTimeout: poll,
	}, true, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./data/farmcrew"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapFarm returns the grid size and fill tile for the in-memory farm.
func mapFarm(cfg *config.Config) (w, h int, fill farm.Tile) {
	w, h = cfg.Farm.Width, cfg.Farm.Height
	if w <= 0 {
		w = defaultFarmSize
	}
	if h <= 0 {
		h = defaultFarmSize
	}
	terrain := farm.Terrain(strings.TrimSpace(cfg.Farm.Terrain))
	if terrain == "" {
		terrain = farm.TerrainSoil
	}
	return w, h, farm.Tile{Terrain: terrain, Water: 0.5, Nutrients: 0.5}
}

type crewSpec struct {
	id, name string
	profile  skills.Profile
}

func mapCrew(cfg *config.Config) ([]crewSpec, error) {
	seen := map[string]bool{}
	out := make([]crewSpec, 0, len(cfg.Crew))
	for i, c := range cfg.Crew {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("crew[%d].id is empty", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("crew[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		role := workorder.Role(strings.TrimSpace(c.Role))
		if len(skills.KindsForRole(role)) == 0 {
			return nil, fmt.Errorf("crew[%d].role: unknown role %q", i, c.Role)
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = id
		}
		out = append(out, crewSpec{id: id, name: name, profile: skills.NewProfile(role)})
	}
	return out, nil
}

// ValidateConfig runs every section mapping and returns the first error. It is the
// semantic half of validation; the schema half runs while parsing.
func ValidateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapManagerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapGeneratorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapIntegrationConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCrew(cfg); err != nil {
		return err
	}
	return nil
}
