package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks a decoded config for values that would fail at startup.
// It does not mutate cfg; defaults are resolved by the consumers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
		}
	case "memory", "":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	if cfg.Storage.RunHistoryPerJob < 0 {
		errs = append(errs, errors.New("storage.run_history_per_job must be >= 0"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if raw := strings.TrimSpace(cfg.Generator.URL); raw != "" {
		if err := checkHTTPURL("generator.url", raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Generator.RatePerSec < 0 {
		errs = append(errs, errors.New("generator.rate_per_sec must be >= 0"))
	}
	if raw := strings.TrimSpace(cfg.Safeguard.RemoteURL); raw != "" {
		if err := checkHTTPURL("safeguard.remote_url", raw); err != nil {
			errs = append(errs, err)
		}
	}
	for _, o := range cfg.Safeguard.BlockOrigins {
		switch strings.TrimSpace(o) {
		case "scheduled_job", "manual_trigger", "startup_init":
		default:
			errs = append(errs, fmt.Errorf("safeguard.block_origins: unknown origin %q", o))
		}
	}
	if q := cfg.Safeguard.QuietHours; q != nil {
		if err := checkClock("safeguard.quiet_hours.start", q.Start); err != nil {
			errs = append(errs, err)
		}
		if err := checkClock("safeguard.quiet_hours.end", q.End); err != nil {
			errs = append(errs, err)
		}
		if tz := strings.TrimSpace(q.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("safeguard.quiet_hours.timezone: %w", err))
			}
		}
	}

	checkDur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	checkDur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	checkDur("http.read_timeout", cfg.HTTP.ReadTimeout)
	checkDur("http.write_timeout", cfg.HTTP.WriteTimeout)
	checkDur("http.idle_timeout", cfg.HTTP.IdleTimeout)
	checkDur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	checkDur("generator.timeout", cfg.Generator.Timeout)
	checkDur("safeguard.remote_timeout", cfg.Safeguard.RemoteTimeout)
	if te := cfg.TaskEngine; te != nil {
		checkDur("task_engine.default_timeout", te.DefaultTimeout)
	}
	if n := cfg.Notifier; n != nil {
		checkDur("notifier.retry_base", n.RetryBase)
		checkDur("notifier.retry_max_delay", n.RetryMaxDelay)
		checkDur("notifier.dedup_window", n.DedupWindow)
		if n.Enabled && (strings.TrimSpace(n.Telegram.Token) == "" || n.Telegram.ChatID == 0) {
			errs = append(errs, errors.New("notifier.telegram.token and notifier.telegram.chat_id are required when notifier.enabled"))
		}
	}

	return errors.Join(errs...)
}

func checkHTTPURL(path, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", path)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host is required", path)
	}
	return nil
}

func checkClock(path, raw string) error {
	if _, err := time.Parse("15:04", strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%s: expected HH:MM, got %q", path, raw)
	}
	return nil
}
