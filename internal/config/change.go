package config

import (
	"slices"
	"strings"

	logx "contentpilot/pkg/logx"
)

// Change is one committed config transition.
type Change struct {
	Old *Config
	New *Config

	// Sections lists the changed top-level sections, sorted.
	Sections []string
	// Fields are secret-free log attributes for the changed sections.
	Fields   []logx.Field
	// Rotated names secrets whose value changed.
	Rotated  []string
	// Restart names changed settings that only apply after a restart.
	Restart  []string
}

// Empty reports whether nothing observable changed.
func (c Change) Empty() bool { return len(c.Sections) == 0 && len(c.Rotated) == 0 }

func (c Change) Has(section string) bool { return slices.Contains(c.Sections, section) }

func (c Change) Rotates(secret string) bool { return slices.Contains(c.Rotated, secret) }

// Sections whose changes are read once at startup.
var restartSections = []string{"storage", "systemd", "task_engine", "generator"}

// Diff computes the Change from oldCfg to newCfg.
func Diff(oldCfg, newCfg *Config) Change {
	sections, fields := SummarizeConfigChange(oldCfg, newCfg)
	c := Change{Old: oldCfg, New: newCfg, Sections: sections, Fields: fields}
	if oldCfg == nil || newCfg == nil {
		return c
	}

	if oldCfg.HTTP.AdminToken != newCfg.HTTP.AdminToken {
		c.Rotated = append(c.Rotated, "http.admin_token")
	}
	if oldCfg.Generator.Token != newCfg.Generator.Token {
		c.Rotated = append(c.Rotated, "generator.token")
	}
	if derefNotifier(oldCfg.Notifier).Telegram.Token != derefNotifier(newCfg.Notifier).Telegram.Token {
		c.Rotated = append(c.Rotated, "notifier.telegram.token")
	}

	for _, s := range restartSections {
		if c.Has(s) {
			c.Restart = append(c.Restart, s)
		}
	}
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if strings.TrimSpace(oh.Addr) != strings.TrimSpace(nh.Addr) || oh.BasePath != nh.BasePath || oh.Pprof != nh.Pprof {
		c.Restart = append(c.Restart, "http.listener")
	}
	// The generator client and the Telegram sender keep the token they were built with.
	if c.Rotates("generator.token") && !c.Has("generator") {
		c.Restart = append(c.Restart, "generator.token")
	}
	if c.Rotates("notifier.telegram.token") {
		c.Restart = append(c.Restart, "notifier.telegram.token")
	}
	return c
}
