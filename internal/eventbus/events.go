package eventbus

import "time"

// Job lifecycle event types.
const (
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
	JobBlocked   = "job.blocked"
	JobSkipped   = "job.skipped"
	JobArmed     = "job.armed"
	JobDisarmed  = "job.disarmed"
	JobsStopped  = "jobs.stopped"
)

// JobEvent is the payload of every job.* event.
type JobEvent struct {
	RunID          string    `json:"runId,omitempty"`
	JobID          int64     `json:"jobId"`
	JobName        string    `json:"jobName,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitzero"`
	Duration       int64     `json:"durationMs,omitempty"`
	GeneratedCount int       `json:"generatedCount,omitempty"`
	Error          string    `json:"error,omitempty"`
	NextFire       time.Time `json:"nextFire,omitzero"`
}

// PublishJob is a nil-safe helper for job events.
func PublishJob(b Bus, typ string, ev JobEvent) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: ev})
}
