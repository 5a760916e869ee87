package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  addr: 127.0.0.1:9090
  admin_token: secret
storage:
  driver: sqlite
  path: ./data/jobs.db
scheduler:
  enabled: true
  timezone: America/New_York
generator:
  url: http://127.0.0.1:5000/api/generate/bulk
  timeout: 2m
safeguard:
  allow_generation: true
  block_origins: [manual_trigger]
  quiet_hours:
    start: "23:00"
    end: "05:00"
jobs:
  default_tones: [friendly]
`

const sampleTOML = `
[logging]
level = "info"
console = true

[storage]
driver = "memory"

[scheduler]
enabled = true

[safeguard]
allow_generation = false
`

func TestParseBytesFormats(t *testing.T) {
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Scheduler.Timezone != "America/New_York" {
		t.Fatalf("yaml decoded wrong: %+v", cfg)
	}
	if cfg.Safeguard.QuietHours == nil || cfg.Safeguard.QuietHours.Start != "23:00" {
		t.Fatalf("quiet hours missing: %+v", cfg.Safeguard)
	}
	if len(cfg.Safeguard.BlockOrigins) != 1 || cfg.Safeguard.BlockOrigins[0] != "manual_trigger" {
		t.Fatalf("block origins=%v", cfg.Safeguard.BlockOrigins)
	}

	cfg, err = ParseBytes("config.toml", []byte(sampleTOML))
	if err != nil {
		t.Fatalf("toml: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Safeguard.AllowGeneration {
		t.Fatalf("toml decoded wrong: %+v", cfg)
	}

	cfg, err = ParseBytes("config.json", []byte(`{"storage":{"driver":"memory"},"scheduler":{"enabled":true}}`))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !cfg.Scheduler.Enabled {
		t.Fatalf("json decoded wrong: %+v", cfg)
	}
}

func TestParseBytesRejects(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"unknown field", "c.json", `{"storage":{"driver":"memory"},"bogus":1}`, "unknown field"},
		{"trailing data", "c.json", `{"storage":{"driver":"memory"}}{}`, "trailing"},
		{"sqlite without path", "c.json", `{"storage":{"driver":"sqlite"}}`, "storage.path"},
		{"bad driver", "c.json", `{"storage":{"driver":"postgres"}}`, "unknown storage.driver"},
		{"bad timezone", "c.json", `{"scheduler":{"timezone":"Mars/Olympus"}}`, "scheduler.timezone"},
		{"bad duration", "c.json", `{"generator":{"timeout":"soon"}}`, "generator.timeout"},
		{"bad origin", "c.json", `{"safeguard":{"block_origins":["cron"]}}`, "unknown origin"},
		{"bad quiet hours", "c.json", `{"safeguard":{"quiet_hours":{"start":"25:00","end":"01:00"}}}`, "quiet_hours.start"},
		{"bad generator url", "c.json", `{"generator":{"url":"ftp://x"}}`, "generator.url"},
		{"notifier missing chat", "c.json", `{"notifier":{"enabled":true,"telegram":{"token":"t"}}}`, "chat_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBytes(tc.path, []byte(tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "750ms", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("explicit: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration should fail")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{HTTP: HTTPConfig{Addr: ":8080", AdminToken: "a"}}
	newCfg := &Config{HTTP: HTTPConfig{Addr: ":8080", AdminToken: "b"}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("rotating a token must not report a change, got %v", changed)
	}

	newCfg.Safeguard.AllowGeneration = true
	newCfg.Logging.Level = "debug"
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,safeguard" {
		t.Fatalf("changed=%v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadCommitsValidatedChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"storage":{"driver":"memory"},"logging":{"level":"info"},"http":{"addr":":8080","admin_token":"a"}}`)

	m := NewManager(path)
	rejectTrace := errors.New("trace not allowed")
	m.SetValidator(func(cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return rejectTrace
		}
		return nil
	})
	initial, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	// Identical content commits nothing.
	c, err := m.Reload(ctx)
	if err != nil || !c.Empty() || len(ch) != 0 {
		t.Fatalf("unchanged reload: change=%+v err=%v queued=%d", c, err, len(ch))
	}

	// The validator guards the commit path.
	writeConfig(t, path, `{"storage":{"driver":"memory"},"logging":{"level":"trace"},"http":{"addr":":8080","admin_token":"a"}}`)
	if _, err := m.Reload(ctx); !errors.Is(err, rejectTrace) {
		t.Fatalf("expected validator error, got %v", err)
	}
	if m.Get() != initial || len(ch) != 0 {
		t.Fatal("rejected config must not be committed or published")
	}

	writeConfig(t, path, `{"storage":{"driver":"sqlite","path":"./jobs.db"},"logging":{"level":"debug"},"http":{"addr":":9090","admin_token":"b"}}`)
	c, err = m.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if strings.Join(c.Sections, ",") != "http,logging,storage" {
		t.Fatalf("sections=%v", c.Sections)
	}
	if strings.Join(c.Restart, ",") != "storage,http.listener" {
		t.Fatalf("restart=%v", c.Restart)
	}
	if !c.Rotates("http.admin_token") || c.Old != initial || m.Get() != c.New {
		t.Fatalf("change=%+v", c)
	}
	got := <-ch
	if got.New != c.New {
		t.Fatal("subscriber did not receive the committed change")
	}
}

func TestDiffRestartSettings(t *testing.T) {
	base := func() *Config {
		return &Config{
			HTTP:      HTTPConfig{Addr: ":8080"},
			Generator: GeneratorConfig{URL: "http://gen", Token: "t1"},
			Notifier:  &NotifierConfig{Enabled: true, Telegram: TelegramConfig{Token: "bot1"}},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		restart string
		rotated string
	}{
		{name: "token rotation only", mutate: func(c *Config) { c.HTTP.AdminToken = "x" }, rotated: "http.admin_token"},
		{name: "generator token", mutate: func(c *Config) { c.Generator.Token = "t2" }, restart: "generator.token", rotated: "generator.token"},
		{name: "generator url", mutate: func(c *Config) { c.Generator.URL = "http://other" }, restart: "generator"},
		{name: "telegram token", mutate: func(c *Config) { c.Notifier.Telegram.Token = "bot2" }, restart: "notifier.telegram.token", rotated: "notifier.telegram.token"},
		{name: "base path", mutate: func(c *Config) { c.HTTP.BasePath = "/admin" }, restart: "http.listener"},
		{name: "systemd", mutate: func(c *Config) { c.Systemd.Notify = true }, restart: "systemd"},
		{name: "live section", mutate: func(c *Config) { c.Safeguard.AllowGeneration = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base()
			tt.mutate(next)
			c := Diff(base(), next)
			if got := strings.Join(c.Restart, ","); got != tt.restart {
				t.Fatalf("restart=%q want %q", got, tt.restart)
			}
			if got := strings.Join(c.Rotated, ","); got != tt.rotated {
				t.Fatalf("rotated=%q want %q", got, tt.rotated)
			}
			if c.Empty() {
				t.Fatal("change should not be empty")
			}
		})
	}
}

func TestSlowSubscriberKeepsLatestChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	for _, lvl := range []string{"debug", "warn", "error"} {
		writeConfig(t, path, `{"logging":{"level":"`+lvl+`"}}`)
		if _, err := m.Reload(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(ch) != 1 {
		t.Fatalf("queued=%d", len(ch))
	}
	if c := <-ch; c.New.Logging.Level != "error" {
		t.Fatalf("latest level=%q", c.New.Logging.Level)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, `{"storage":{"driver":"memory"},"logging":{"level":"info"}}`)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.watch(ctx, 20*time.Millisecond) }()

	// Keep writing until the watcher has registered and picked one up.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		writeConfig(t, path, `{"storage":{"driver":"memory"},"logging":{"level":"debug"}}`)
		select {
		case c := <-ch:
			if c.New.Logging.Level != "debug" || !c.Has("logging") {
				t.Fatalf("published change=%+v", c)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatalf("Get() not committed")
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	t.Fatalf("no config published")
}
