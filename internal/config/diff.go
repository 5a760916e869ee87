package config

import (
	"reflect"
	"sort"
	"strings"

	logx "contentpilot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// HTTP (never log admin token)
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oTok, nTok := strings.TrimSpace(oh.AdminToken) != "", strings.TrimSpace(nh.AdminToken) != ""
	oh.AdminToken, nh.AdminToken = "", ""
	if oh != nh || oTok != nTok {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.String("http.base_path", strings.TrimSpace(nh.BasePath)),
			logx.Bool("http.token_set", nTok),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Int("storage.run_history_per_job", newCfg.Storage.RunHistoryPerJob),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if oTE != nTE {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
		)
	}

	// Generator (never log token)
	og, ng := oldCfg.Generator, newCfg.Generator
	oGTok, nGTok := og.Token != "", ng.Token != ""
	og.Token, ng.Token = "", ""
	if og != ng || oGTok != nGTok {
		changed = append(changed, "generator")
		attrs = append(attrs,
			logx.String("generator.url", strings.TrimSpace(ng.URL)),
			logx.String("generator.timeout", strings.TrimSpace(ng.Timeout)),
			logx.Float64("generator.rate_per_sec", ng.RatePerSec),
			logx.Bool("generator.token_set", nGTok),
		)
	}

	if !reflect.DeepEqual(oldCfg.Safeguard, newCfg.Safeguard) {
		changed = append(changed, "safeguard")
		attrs = append(attrs,
			logx.Bool("safeguard.allow_generation", newCfg.Safeguard.AllowGeneration),
			logx.Any("safeguard.block_origins", newCfg.Safeguard.BlockOrigins),
			logx.Bool("safeguard.quiet_hours", newCfg.Safeguard.QuietHours != nil),
			logx.Bool("safeguard.remote", strings.TrimSpace(newCfg.Safeguard.RemoteURL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
	}

	// Notifier (never log bot token). Nil means disabled.
	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	oNTok, nNTok := oN.Telegram.Token != "", nN.Telegram.Token != ""
	oN.Telegram.Token, nN.Telegram.Token = "", ""
	if !reflect.DeepEqual(oN, nN) || oNTok != nNTok {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.workers", nN.Workers),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Bool("notifier.telegram_token_set", nNTok),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
