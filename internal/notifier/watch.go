package notifier

import (
	"context"
	"fmt"
	"slices"

	"contentpilot/internal/eventbus"
	logx "contentpilot/pkg/logx"
	"contentpilot/pkg/tgui"
)

func (s *Service) watch(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.mu.Lock()
			wanted := slices.Contains(s.cfg.NotifyOn, ev.Type)
			s.mu.Unlock()
			if !wanted {
				continue
			}
			n, ok := alertFor(ev)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, n); err != nil && ctx.Err() == nil {
				s.log.Debug("alert not queued", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

// alertFor renders a bus event as an HTML Telegram message.
func alertFor(ev eventbus.Event) (Notification, bool) {
	switch ev.Type {
	case eventbus.JobFailed, eventbus.JobBlocked:
		je, ok := ev.Data.(eventbus.JobEvent)
		if !ok {
			return Notification{}, false
		}
		title, prio := "Job failed", 7
		if ev.Type == eventbus.JobBlocked {
			title, prio = "Job blocked", 5
		}
		text := tgui.Lines(
			tgui.B(title)+": "+tgui.Esc(fmt.Sprintf("%s (#%d)", jobLabel(je), je.JobID)),
			tgui.Field("origin", je.Origin),
			reasonLine(je.Error),
		)
		return Notification{
			// One alert per job and kind within the dedup window.
			Key:      fmt.Sprintf("%s:%d", ev.Type, je.JobID),
			Text:     text.String(),
			Priority: prio,
		}, true
	case eventbus.JobsStopped:
		count := 0
		if m, ok := ev.Data.(map[string]int); ok {
			count = m["stoppedCount"]
		}
		return Notification{
			Key:      ev.Type,
			Text:     (tgui.B("Emergency stop") + tgui.Esc(fmt.Sprintf(": %d timer(s) destroyed", count))).String(),
			Priority: 9,
		}, true
	}
	return Notification{}, false
}

func reasonLine(msg string) tgui.H {
	if msg == "" {
		return ""
	}
	return "reason: " + tgui.Esc(tgui.TruncRunes(msg, 500))
}

func jobLabel(je eventbus.JobEvent) string {
	if je.JobName != "" {
		return je.JobName
	}
	if je.JobID == 0 {
		return "startup"
	}
	return "job"
}
