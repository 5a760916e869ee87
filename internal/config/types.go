package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`

	// Storage is required; there is no implicit in-memory fallback in production.
	Storage StorageConfig `json:"storage"`

	// Scheduler controls the timer registry (cron triggers).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls the worker pool that executes timer fires.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Generator GeneratorConfig `json:"generator"`
	Safeguard SafeguardConfig `json:"safeguard"`

	// Jobs holds defaults applied to new jobs when the request omits them.
	Jobs JobsConfig `json:"jobs"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Systemd  SystemdConfig   `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "console" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the admin API server.
//
// Security note:
//   - Prefer binding to localhost behind a reverse proxy.
//   - AdminToken enables bearer auth on every route under BasePath. Never log it.
type HTTPConfig struct {
	Addr       string `json:"addr"`                // default: "127.0.0.1:8080"
	BasePath   string `json:"base_path,omitempty"` // default: "/api/admin"
	AdminToken string `json:"admin_token,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Pprof mounts /debug/pprof/ on the admin server.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig controls the job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/contentpilot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite" | "memory"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// RunHistoryPerJob caps stored run records per job. Default: 50.
	RunHistoryPerJob int `json:"run_history_per_job,omitempty"`
}

// SchedulerConfig controls the timer registry.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is used for jobs that do not carry their own. Default: "UTC".
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "10m"
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// GeneratorConfig points at the external bulk generation endpoint.
type GeneratorConfig struct {
	URL     string `json:"url"`
	Token   string `json:"token,omitempty"`   // bearer token (do not log)
	Timeout string `json:"timeout,omitempty"` // default: "5m"

	// RatePerSec limits outgoing requests across all jobs. 0 disables limiting.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// SafeguardConfig is the pre-execution policy.
//
// AllowGeneration=false is a global kill switch. BlockOrigins denies selected
// origins ("scheduled_job", "manual_trigger", "startup_init").
// RemoteURL, when set, is consulted after the local policy allows.
type SafeguardConfig struct {
	AllowGeneration bool        `json:"allow_generation"`
	BlockOrigins    []string    `json:"block_origins,omitempty"`
	QuietHours      *QuietHours `json:"quiet_hours,omitempty"`

	RemoteURL     string `json:"remote_url,omitempty"`
	RemoteTimeout string `json:"remote_timeout,omitempty"` // default: "5s"
}

// QuietHours blocks scheduled executions in [Start, End) local time.
// A window where End < Start wraps midnight.
type QuietHours struct {
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`   // "HH:MM"
	Timezone string `json:"timezone,omitempty"`
}

// JobsConfig holds defaults for job creation.
type JobsConfig struct {
	DefaultTones     []string `json:"default_tones,omitempty"`
	DefaultTemplates []string `json:"default_templates,omitempty"`
	DefaultPlatforms []string `json:"default_platforms,omitempty"`
	DefaultAIModel   string   `json:"default_ai_model,omitempty"`
	DefaultUserID    string   `json:"default_user_id,omitempty"`
}

// NotifierConfig controls the alert pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, alerts are disabled.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`

	Telegram TelegramConfig `json:"telegram"`

	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`

	// NotifyOn selects event types that produce alerts.
	// Default: ["job.failed", "job.blocked"].
	NotifyOn []string `json:"notify_on,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"` // do not log
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SystemdConfig controls sd_notify integration.
type SystemdConfig struct {
	Notify bool `json:"notify"`
}
