package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"contentpilot/internal/runtime/supervisor"
	logx "contentpilot/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside a notify-type unit
// every call is a no-op.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
}

func (n sdNotifier) send(state string) {
	if !n.enabled {
		return
	}
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !ok {
		n.log.Debug("sd_notify not supported", logx.String("state", state))
	}
}

func (n sdNotifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n sdNotifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// startWatchdog pings the systemd watchdog at half the configured interval
// while healthy reports true.
func (n sdNotifier) startWatchdog(sup *supervisor.Supervisor, healthy func() bool) {
	if !n.enabled {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("sd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if healthy == nil || healthy() {
					n.send(daemon.SdNotifyWatchdog)
				}
			}
		}
	})
}
