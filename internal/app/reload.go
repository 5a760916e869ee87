package app

import (
	"context"
	"strings"
	"time"

	"contentpilot/internal/config"
	logx "contentpilot/pkg/logx"
)

// reloadLoop applies committed config changes. Bursts collapse into one
// apply against the config that was last applied.
func (a *App) reloadLoop(ctx context.Context, sub chan config.Change, last *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						break drain
					}
					c = newer
				default:
					break drain
				}
			}
			if c.New == nil {
				continue
			}
			if c.Old != last {
				c = config.Diff(last, c.New)
			}
			a.applyConfig(ctx, c)
			last = c.New
		}
	}
}

func (a *App) applyConfig(ctx context.Context, c config.Change) {
	if c.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	prev, next := c.Old, c.New
	a.sd.Reloading()
	defer a.sd.Ready()

	for _, r := range c.Restart {
		a.log.Warn("config setting changed; restart required for it to take effect", logx.String("setting", r))
	}

	a.logs.Apply(mapLogConfig(next))
	a.http.SetAdminToken(next.HTTP.AdminToken)
	a.jobs.SetDefaults(jobDefaults(next))

	if c.Has("safeguard") || c.Has("scheduler") {
		if err := a.gate.Apply(next); err != nil {
			a.log.Warn("invalid safeguard config; keeping previous", logx.Err(err))
		}
	}

	switch {
	case prev.Scheduler.Enabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.registry.Stop(stopCtx)
		cancel()
	case !prev.Scheduler.Enabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.registry.Start(ctx)
	}

	if c.Has("notifier") {
		a.applyNotifier(ctx, next)
	}

	fields := append([]logx.Field{
		logx.String("changed", strings.Join(c.Sections, ",")),
		logx.String("rotated", strings.Join(c.Rotated, ",")),
	}, c.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, next *config.Config) {
	nc, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if a.notif == nil {
		if nc.Enabled {
			a.log.Warn("notifier token configured after startup; restart required")
		}
		return
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
