package app

import (
	"fmt"
	"strings"
	"time"

	"contentpilot/internal/config"
	"contentpilot/internal/generator"
	"contentpilot/internal/httpapi"
	"contentpilot/internal/jobs"
	"contentpilot/internal/notifier"
	"contentpilot/internal/safeguard"
	"contentpilot/internal/storage"
	"contentpilot/internal/task/engine"
	logx "contentpilot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory", Path: path, RunHistoryPerJob: sc.RunHistoryPerJob}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, RunHistoryPerJob: sc.RunHistoryPerJob}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := engine.Config{DefaultTimeout: 10 * time.Minute}
	if cfg.TaskEngine == nil {
		return te, nil
	}
	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size and history_size must be >= 0")
	}
	te.Workers = cfg.TaskEngine.Workers
	te.QueueSize = cfg.TaskEngine.QueueSize
	te.HistorySize = cfg.TaskEngine.HistorySize
	d, err := config.ParseDurationOrDefault("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout, te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	te.DefaultTimeout = d
	return te, nil
}

func mapGeneratorConfig(cfg *config.Config) (generator.Config, error) {
	gc := cfg.Generator
	if strings.TrimSpace(gc.URL) == "" {
		return generator.Config{}, fmt.Errorf("generator.url is required")
	}
	timeout, err := config.ParseDurationOrDefault("generator.timeout", gc.Timeout, 5*time.Minute)
	if err != nil {
		return generator.Config{}, err
	}
	return generator.Config{
		URL:        strings.TrimSpace(gc.URL),
		Token:      strings.TrimSpace(gc.Token),
		Timeout:    timeout,
		RatePerSec: gc.RatePerSec,
		Burst:      gc.Burst,
	}, nil
}

func mapPolicyConfig(cfg *config.Config) (safeguard.PolicyConfig, error) {
	sg := cfg.Safeguard
	pc := safeguard.PolicyConfig{AllowGeneration: sg.AllowGeneration}
	for _, o := range sg.BlockOrigins {
		pc.BlockOrigins = append(pc.BlockOrigins, safeguard.Origin(strings.TrimSpace(o)))
	}
	if q := sg.QuietHours; q != nil {
		pc.QuietStart, pc.QuietEnd = q.Start, q.End
		tz := strings.TrimSpace(q.Timezone)
		if tz == "" {
			tz = strings.TrimSpace(cfg.Scheduler.Timezone)
		}
		if tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return safeguard.PolicyConfig{}, fmt.Errorf("safeguard.quiet_hours.timezone: %w", err)
			}
			pc.QuietLocation = loc
		}
	}
	return pc, nil
}

// remoteGate returns nil when no remote policy is configured.
func remoteGate(cfg *config.Config, log logx.Logger) (safeguard.Gate, error) {
	url := strings.TrimSpace(cfg.Safeguard.RemoteURL)
	if url == "" {
		return nil, nil
	}
	timeout, err := config.ParseDurationOrDefault("safeguard.remote_timeout", cfg.Safeguard.RemoteTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return safeguard.NewRemote(url, timeout, log), nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:         n.Enabled,
		Target:          notifier.Target{ChatID: n.Telegram.ChatID, ThreadID: n.Telegram.ThreadID},
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    true,
		NotifyOn:        append([]string(nil), n.NotifyOn...),
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 10*time.Minute); err != nil {
		return notifier.Config{}, err
	}
	if out.Enabled && (strings.TrimSpace(n.Telegram.Token) == "" || out.Target.ChatID == 0) {
		return notifier.Config{}, fmt.Errorf("notifier.telegram.token and notifier.telegram.chat_id are required when notifier.enabled")
	}
	return out, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	out := httpapi.Config{
		Addr:       strings.TrimSpace(h.Addr),
		BasePath:   h.BasePath,
		AdminToken: h.AdminToken,
		Pprof:      h.Pprof,
	}
	if strings.TrimSpace(out.BasePath) == "" {
		out.BasePath = "/api/admin"
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", h.ReadTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("http.idle_timeout", h.IdleTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationField("http.shutdown_timeout", h.ShutdownTimeout); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

func jobDefaults(cfg *config.Config) jobs.Defaults {
	j := cfg.Jobs
	return jobs.Defaults{
		UserID:    j.DefaultUserID,
		Timezone:  cfg.Scheduler.Timezone,
		AIModel:   j.DefaultAIModel,
		Tones:     append([]string(nil), j.DefaultTones...),
		Templates: append([]string(nil), j.DefaultTemplates...),
		Platforms: append([]string(nil), j.DefaultPlatforms...),
	}
}

// validateRuntime checks everything the component mappers reject. It runs on
// startup and before a reloaded config is committed.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGeneratorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPolicyConfig(cfg); err != nil {
		return err
	}
	if _, err := remoteGate(cfg, logx.Nop()); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
