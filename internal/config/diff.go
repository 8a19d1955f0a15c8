package config

import (
	"reflect"
	"sort"
	"strings"

	"farmcrew/pkg/logx"
)

// RestartSections change only on process restart; the app logs a warning for them.
var RestartSections = map[string]bool{"storage": true, "telegram": true, "farm": true}

// SummarizeConfigChange returns the sorted names of changed sections and safe fields for
// logging. Secrets (the bot token) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
		)
	}
	if oldCfg.Manager != newCfg.Manager {
		changed = append(changed, "manager")
		attrs = append(attrs,
			logx.Int("manager.max_active_orders", newCfg.Manager.MaxActiveOrders),
			logx.String("manager.conflict_policy", newCfg.Manager.ConflictPolicy),
			logx.String("manager.retention", newCfg.Manager.Retention),
		)
	}
	if !reflect.DeepEqual(oldCfg.Generator, newCfg.Generator) {
		changed = append(changed, "generator")
		attrs = append(attrs,
			logx.Bool("generator.enabled", BoolOr(newCfg.Generator.Enabled, true)),
			logx.String("generator.scan_interval", newCfg.Generator.ScanInterval),
			logx.Int("generator.min_plots_for_order", newCfg.Generator.MinPlotsForOrder),
		)
	}
	if !reflect.DeepEqual(oldCfg.Integration, newCfg.Integration) {
		changed = append(changed, "integration")
		attrs = append(attrs, logx.Bool("integration.use_work_orders", BoolOr(newCfg.Integration.UseWorkOrders, true)))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", BoolOr(newCfg.Scheduler.Enabled, true)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.day_tick", strings.TrimSpace(newCfg.Scheduler.DayTick)),
		)
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Strings("notifier.events", newCfg.Notifier.Events),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}
	if oldCfg.Farm != newCfg.Farm {
		changed = append(changed, "farm")
	}
	if !reflect.DeepEqual(oldCfg.Crew, newCfg.Crew) {
		changed = append(changed, "crew")
		attrs = append(attrs, logx.Int("crew.size", len(newCfg.Crew)))
	}

	sort.Strings(changed)
	return changed, attrs
}
