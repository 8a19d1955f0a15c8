package config

// Config is the on-disk configuration document.
//
// All durations are Go duration strings ("500ms", "10s", "168h"). Pointer booleans
// distinguish "omitted" (use the default) from an explicit false.
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Manager     ManagerConfig      `json:"manager"`
	Generator   GeneratorConfig    `json:"generator"`
	Integration IntegrationConfig  `json:"integration"`
	Scheduler   SchedulerConfig    `json:"scheduler"`
	TaskEngine  TaskEngineConfig   `json:"task_engine"`
	Notifier    NotifierConfig     `json:"notifier"`
	Telegram    TelegramConfig     `json:"telegram"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Farm        FarmConfig         `json:"farm"`
	Crew        []CrewMemberConfig `json:"crew,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console *bool        `json:"console,omitempty"`
	File    LoggingFile  `json:"file"`
	Alerts  LoggingAlert `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards high-severity lines to the telegram chat configured under notifier.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ManagerConfig controls the work-order manager.
//
// Defaults: max_active_orders 100, retention "168h", conflict_policy "reject",
// default_deadline "0s" (none).
type ManagerConfig struct {
	MaxActiveOrders int    `json:"max_active_orders,omitempty"`
	Retention       string `json:"retention,omitempty"`
	ConflictPolicy  string `json:"conflict_policy,omitempty"`
	DefaultDeadline string `json:"default_deadline,omitempty"`
}

type GeneratorConfig struct {
	Enabled            *bool   `json:"enabled,omitempty"`
	ScanInterval       string  `json:"scan_interval,omitempty"`
	MinPlotsForOrder   int     `json:"min_plots_for_order,omitempty"`
	AutoAssign         *bool   `json:"auto_assign,omitempty"`
	ReactiveHarvest    *bool   `json:"reactive_harvest,omitempty"`
	ReactiveDeadline   string  `json:"reactive_deadline,omitempty"`
	ReactiveRatePerSec float64 `json:"reactive_rate_per_sec,omitempty"`
}

type IntegrationConfig struct {
	// UseWorkOrders=false selects the legacy direct-dispatch path.
	UseWorkOrders  *bool  `json:"use_work_orders,omitempty"`
	ExecuteTimeout string `json:"execute_timeout,omitempty"`
}

// SchedulerConfig controls triggers. day_tick accepts a cron spec, an @descriptor,
// a Go duration or HH:MM.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	DayTick  string `json:"day_tick,omitempty"`
}

// TaskEngineConfig controls the pool that runs worker executions and scheduled jobs.
//
// Defaults: workers 2, queue_size 256, retry_max 3, default_timeout "0s", history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls operator notifications. Messages go to chat_id/thread_id
// through the telegram bot.
type NotifierConfig struct {
	Enabled         bool     `json:"enabled"`
	ChatID          int64    `json:"chat_id,omitempty"`
	ThreadID        int      `json:"thread_id,omitempty"`
	Events          []string `json:"events,omitempty"`
	Workers         int      `json:"workers,omitempty"`
	QueueSize       int      `json:"queue_size,omitempty"`
	RatePerSec      float64  `json:"rate_per_sec,omitempty"`
	RetryMax        int      `json:"retry_max,omitempty"`
	RetryBase       string   `json:"retry_base,omitempty"`
	RetryMaxDelay   string   `json:"retry_max_delay,omitempty"`
	DedupWindow     string   `json:"dedup_window,omitempty"`
	DedupMaxEntries int      `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool     `json:"persist_dedup,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the order archive.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/farmcrew.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// FarmConfig sizes the in-memory grid used when no external state provider is wired.
type FarmConfig struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Terrain string `json:"terrain,omitempty"`
}

type CrewMemberConfig struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
