package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/generator"
	"contentpilot/internal/safeguard"
	"contentpilot/internal/storage"
	logx "contentpilot/pkg/logx"
)

// Outcome statuses returned by Trigger and Execute.
const (
	StatusCompleted      = storage.RunCompleted
	StatusFailed         = storage.RunFailed
	StatusBlocked        = storage.RunBlocked
	StatusSkipped        = storage.RunSkipped
	StatusAlreadyRunning = "already_running"
)

// Outcome describes one execution attempt.
type Outcome struct {
	RunID          string `json:"runId,omitempty"`
	JobID          int64  `json:"jobId"`
	Status         string `json:"status"`
	GeneratedCount int    `json:"generatedCount,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"durationMs,omitempty"`
}

// Executor performs a single generation attempt and its bookkeeping.
// Callers hold the job's execution lock.
type Executor struct {
	store storage.Store
	gen   generator.Generator
	gate  safeguard.Gate
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func NewExecutor(store storage.Store, gen generator.Generator, gate safeguard.Gate, bus eventbus.Bus, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gate == nil {
		gate = safeguard.AllowAll
	}
	return &Executor{
		store: store,
		gen:   gen,
		gate:  gate,
		bus:   bus,
		log:   log.With(logx.String("comp", "executor")),
		now:   time.Now,
	}
}

// Check asks the safeguard gate. A denial is recorded against the job as
// its last error, without touching run counters.
func (e *Executor) Check(ctx context.Context, job storage.Job, origin safeguard.Origin) safeguard.Verdict {
	v := e.gate.Evaluate(ctx, safeguard.Request{Origin: origin, JobID: job.ID})
	if v.Allowed {
		return v
	}
	if v.Reason == "" {
		v.Reason = "blocked by safeguard"
	}
	bctx := context.WithoutCancel(ctx)
	if err := e.store.MarkBlocked(bctx, job.ID, v.Reason); err != nil {
		e.log.Warn("record blocked run failed", logx.Int64("job_id", job.ID), logx.Err(err))
	}
	e.appendRun(bctx, storage.RunRecord{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Origin:    string(origin),
		Status:    storage.RunBlocked,
		StartedAt: e.now(),
		Error:     v.Reason,
	})
	e.log.Info("run blocked by safeguard", logx.Int64("job_id", job.ID), logx.String("origin", string(origin)), logx.String("reason", v.Reason))
	eventbus.PublishJob(e.bus, eventbus.JobBlocked, eventbus.JobEvent{JobID: job.ID, JobName: job.Name, Origin: string(origin), Error: v.Reason})
	return v
}

// Execute runs one attempt for job. Failures are recorded on the job and
// reported in the Outcome; they are never returned as errors.
func (e *Executor) Execute(ctx context.Context, job storage.Job, origin safeguard.Origin) Outcome {
	runID := uuid.NewString()
	start := e.now()
	out := Outcome{RunID: runID, JobID: job.ID}
	// Bookkeeping must land even when the run context times out.
	bctx := context.WithoutCancel(ctx)

	next, err := nextRunAt(job, start)
	if err != nil {
		next = start.Add(24 * time.Hour)
	}
	if err := e.store.MarkRunStarted(bctx, job.ID, start, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			out.Status = StatusSkipped
			out.Reason = "job no longer exists"
			return out
		}
		// Without a started mark the statistics would be inconsistent.
		e.log.Error("mark run started failed", logx.Int64("job_id", job.ID), logx.Err(err))
		out.Status = StatusFailed
		out.Error = errors.Wrap(err, "record run start").Error()
		return out
	}

	eventbus.PublishJob(e.bus, eventbus.JobStarted, eventbus.JobEvent{
		RunID: runID, JobID: job.ID, JobName: job.Name, Origin: string(origin), StartedAt: start, NextFire: next,
	})
	e.log.Info("run started", logx.Int64("job_id", job.ID), logx.String("job", job.Name), logx.String("origin", string(origin)), logx.String("run_id", runID))

	var count int
	runErr := validateParams(job)
	if runErr == nil {
		var resp generator.Response
		resp, runErr = e.gen.Generate(ctx, toGenerateRequest(job))
		count = resp.GeneratedCount
	}

	dur := e.now().Sub(start)
	out.DurationMS = dur.Milliseconds()
	rec := storage.RunRecord{ID: runID, JobID: job.ID, Origin: string(origin), StartedAt: start, DurationMS: out.DurationMS}
	ev := eventbus.JobEvent{RunID: runID, JobID: job.ID, JobName: job.Name, Origin: string(origin), StartedAt: start, Duration: out.DurationMS}

	if runErr != nil {
		msg := runErr.Error()
		if err := e.store.MarkRunFinished(bctx, job.ID, msg); err != nil {
			e.log.Error("record run failure failed", logx.Int64("job_id", job.ID), logx.Err(err))
		}
		out.Status, out.Error = StatusFailed, msg
		rec.Status, rec.Error = storage.RunFailed, msg
		ev.Error = msg
		e.appendRun(bctx, rec)
		e.log.Warn("run failed", logx.Int64("job_id", job.ID), logx.String("run_id", runID), logx.Duration("dur", dur), logx.Err(runErr))
		eventbus.PublishJob(e.bus, eventbus.JobFailed, ev)
		return out
	}

	if err := e.store.MarkRunFinished(bctx, job.ID, ""); err != nil {
		e.log.Error("record run success failed", logx.Int64("job_id", job.ID), logx.Err(err))
	}
	out.Status, out.GeneratedCount = StatusCompleted, count
	rec.Status, rec.GeneratedCount = storage.RunCompleted, count
	ev.GeneratedCount = count
	e.appendRun(bctx, rec)
	e.log.Info("run completed", logx.Int64("job_id", job.ID), logx.String("run_id", runID), logx.Int("generated", count), logx.Duration("dur", dur))
	eventbus.PublishJob(e.bus, eventbus.JobCompleted, ev)
	return out
}

// Fire is the scheduled path: reload the job, ask the gate, execute.
// It runs on an engine worker with the job's lock held.
func (e *Executor) Fire(ctx context.Context, id int64) error {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Debug("fire for deleted job ignored", logx.Int64("job_id", id))
			return nil
		}
		return errors.Wrapf(err, "load job %d", id)
	}
	if !job.IsActive {
		e.log.Debug("fire for inactive job ignored", logx.Int64("job_id", id))
		return nil
	}
	if v := e.Check(ctx, job, safeguard.OriginScheduled); !v.Allowed {
		return nil
	}
	e.Execute(ctx, job, safeguard.OriginScheduled)
	return nil
}

func (e *Executor) appendRun(ctx context.Context, rec storage.RunRecord) {
	if err := e.store.AppendRun(ctx, rec); err != nil {
		e.log.Warn("append run record failed", logx.Int64("job_id", rec.JobID), logx.Err(err))
	}
}

func toGenerateRequest(j storage.Job) generator.Request {
	return generator.Request{
		Mode:                   generator.ModeAutomated,
		SelectedNiches:         j.SelectedNiches,
		Tones:                  j.Tones,
		Templates:              j.Templates,
		Platforms:              j.Platforms,
		UseExistingProducts:    j.UseExistingProducts,
		GenerateAffiliateLinks: j.GenerateAffiliateLinks,
		UseSpartanFormat:       j.UseSpartanFormat,
		UseSmartStyle:          j.UseSmartStyle,
		AIModel:                j.AIModel,
		AffiliateID:            j.AffiliateID,
		WebhookURL:             j.WebhookURL,
		UserID:                 j.UserID,
		ScheduledJobID:         j.ID,
		ScheduledJobName:       j.Name,
		SendToMakeWebhook:      j.SendToMakeWebhook,
	}
}
