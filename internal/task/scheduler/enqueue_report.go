package scheduler

import (
	"errors"
	"time"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/task/engine"
	logx "contentpilot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (r *Registry) reportEnqueueError(id int64, err error) {
	if err == nil {
		return
	}
	// The previous fire is still running: skip, never queue.
	if errors.Is(err, engine.ErrOverlapSkip) {
		r.log.Info("fire skipped: job still running", logx.Int64("job_id", id))
		eventbus.PublishJob(r.bus, eventbus.JobSkipped, eventbus.JobEvent{JobID: id, Error: "already_running"})
		return
	}

	now := time.Now()
	r.enqMu.Lock()
	last := r.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		r.enqMu.Unlock()
		return
	}
	r.lastEnqWarn[id] = now
	r.enqMu.Unlock()

	r.log.Warn("fire failed to enqueue", logx.Int64("job_id", id), logx.Err(err))
}
