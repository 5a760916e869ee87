package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/safeguard"
	"contentpilot/internal/storage"
	"contentpilot/internal/task/scheduler"
	logx "contentpilot/pkg/logx"
)

// Timers is the part of the timer registry the orchestrator drives.
// *scheduler.Registry implements it.
type Timers interface {
	Arm(id int64, spec scheduler.DailySpec, run func(ctx context.Context) error) error
	Teardown(id int64) bool
	Forget(id int64) bool
	StopAll() int
	Reset()
	Snapshot() []scheduler.EntryStatus
	TryAcquire(id int64) bool
	Release(id int64)
}

// Service implements the orchestrator operations.
type Service struct {
	store  storage.Store
	timers Timers
	exec   *Executor
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	dmu      sync.RWMutex
	defaults Defaults

	keys keyedMutex
}

func NewService(store storage.Store, timers Timers, exec *Executor, defaults Defaults, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		timers:   timers,
		exec:     exec,
		bus:      bus,
		log:      log.With(logx.String("comp", "jobs")),
		defaults: defaults.withFallbacks(),
		now:      time.Now,
	}
}

// SetDefaults swaps the create defaults (config reload).
func (s *Service) SetDefaults(d Defaults) {
	s.dmu.Lock()
	s.defaults = d.withFallbacks()
	s.dmu.Unlock()
}

func (s *Service) currentDefaults() Defaults {
	s.dmu.RLock()
	defer s.dmu.RUnlock()
	return s.defaults
}

func (s *Service) List(ctx context.Context) ([]storage.Job, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	return jobs, nil
}

func (s *Service) Get(ctx context.Context, id int64) (storage.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Create stores a new job and arms its timer when active. A job whose timer
// cannot be armed is removed again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (storage.Job, error) {
	job := req.toJob(s.currentDefaults())
	if err := validateDefinition(job); err != nil {
		return storage.Job{}, err
	}
	next, err := nextRunAt(job, s.now())
	if err != nil {
		return storage.Job{}, invalid("scheduleTime", err.Error())
	}
	job.NextRunAt = next

	created, err := s.store.CreateJob(ctx, job)
	if err != nil {
		return storage.Job{}, errors.Wrap(err, "create job")
	}

	unlock := s.keys.Lock(created.ID)
	defer unlock()
	if created.IsActive {
		if err := s.arm(created); err != nil {
			if derr := s.store.DeleteJob(context.WithoutCancel(ctx), created.ID); derr != nil {
				s.log.Error("rollback of unarmed job failed", logx.Int64("job_id", created.ID), logx.Err(derr))
			}
			return storage.Job{}, errors.Wrap(err, "arm job")
		}
	}
	s.log.Info("job created", logx.Int64("job_id", created.ID), logx.String("job", created.Name), logx.Bool("active", created.IsActive), logx.Time("next_run", created.NextRunAt))
	return created, nil
}

// Update applies a partial update: teardown, store update, re-arm iff active.
// If the store rejects the update, the previous timer is restored.
func (s *Service) Update(ctx context.Context, id int64, upd JobUpdate) (storage.Job, error) {
	unlock := s.keys.Lock(id)
	defer unlock()

	cur, err := s.store.GetJob(ctx, id)
	if err != nil {
		return storage.Job{}, err
	}
	job := upd.apply(cur)
	if err := validateDefinition(job); err != nil {
		return storage.Job{}, err
	}

	s.timers.Teardown(id)

	next, err := nextRunAt(job, s.now())
	if err != nil {
		s.restore(cur)
		return storage.Job{}, invalid("scheduleTime", err.Error())
	}
	job.NextRunAt = next

	saved, err := s.store.UpdateJob(ctx, job)
	if err != nil {
		s.restore(cur)
		return storage.Job{}, errors.Wrapf(err, "update job %d", id)
	}
	if saved.IsActive {
		if err := s.arm(saved); err != nil {
			return saved, errors.Wrapf(err, "arm job %d", id)
		}
	}
	s.log.Info("job updated", logx.Int64("job_id", id), logx.Bool("active", saved.IsActive), logx.Time("next_run", saved.NextRunAt))
	return saved, nil
}

func (s *Service) restore(prev storage.Job) {
	if !prev.IsActive {
		return
	}
	if err := s.arm(prev); err != nil {
		s.log.Error("restore previous timer failed", logx.Int64("job_id", prev.ID), logx.Err(err))
	}
}

// Delete destroys the timer and removes the job. An in-flight run finishes.
// If the store keeps the row, its timer is restored.
func (s *Service) Delete(ctx context.Context, id int64) error {
	unlock := s.keys.Lock(id)
	defer unlock()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	s.timers.Teardown(id)
	if err := s.store.DeleteJob(ctx, id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.restore(job)
		}
		return errors.Wrapf(err, "delete job %d", id)
	}
	s.timers.Forget(id)
	s.log.Info("job deleted", logx.Int64("job_id", id))
	return nil
}

// Trigger runs a job once, now. A job that is already running yields an
// already_running outcome rather than an error.
func (s *Service) Trigger(ctx context.Context, id int64) (Outcome, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if v := s.exec.Check(ctx, job, safeguard.OriginManual); !v.Allowed {
		return Outcome{JobID: id, Status: StatusBlocked, Reason: v.Reason}, nil
	}
	if !s.timers.TryAcquire(id) {
		s.log.Info("manual trigger skipped: job already running", logx.Int64("job_id", id))
		eventbus.PublishJob(s.bus, eventbus.JobSkipped, eventbus.JobEvent{JobID: id, JobName: job.Name, Origin: string(safeguard.OriginManual), Error: StatusAlreadyRunning})
		return Outcome{JobID: id, Status: StatusAlreadyRunning, Reason: "job is currently running"}, nil
	}
	defer s.timers.Release(id)
	return s.exec.Execute(ctx, job, safeguard.OriginManual), nil
}

// EmergencyStop destroys every armed timer. Stored jobs keep their isActive
// flag, so a restart re-arms them.
func (s *Service) EmergencyStop() int {
	n := s.timers.StopAll()
	s.log.Warn("emergency stop: all timers destroyed", logx.Int("stopped", n))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobsStopped, Time: s.now(), Data: map[string]int{"stoppedCount": n}})
	}
	return n
}

// StatusReport is the diagnostic registry view.
type StatusReport struct {
	TotalActive int                     `json:"totalActive"`
	Jobs        []scheduler.EntryStatus `json:"jobs"`
}

func (s *Service) Status() StatusReport {
	entries := s.timers.Snapshot()
	return StatusReport{TotalActive: len(entries), Jobs: entries}
}

// Init is the startup path: safeguard check, registry wipe, arm every active
// job. It returns how many timers were armed. Per-job failures are logged.
func (s *Service) Init(ctx context.Context) (int, error) {
	v := s.exec.gate.Evaluate(ctx, safeguard.Request{Origin: safeguard.OriginStartup})
	if !v.Allowed {
		eventbus.PublishJob(s.bus, eventbus.JobBlocked, eventbus.JobEvent{Origin: string(safeguard.OriginStartup), Error: v.Reason})
		return 0, errors.Wrap(ErrBlocked, v.Reason)
	}
	s.timers.Reset()

	active, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load active jobs")
	}
	now := s.now()
	armed := 0
	for _, job := range active {
		if s.initOne(ctx, job, now) {
			armed++
		}
	}
	s.log.Info("jobs initialized", logx.Int("active", len(active)), logx.Int("armed", armed))
	return armed, nil
}

func (s *Service) initOne(ctx context.Context, job storage.Job, now time.Time) bool {
	unlock := s.keys.Lock(job.ID)
	defer unlock()

	if next, err := nextRunAt(job, now); err == nil && !next.Equal(job.NextRunAt) {
		if err := s.store.SetNextRun(ctx, job.ID, next); err != nil {
			s.log.Warn("refresh next run failed", logx.Int64("job_id", job.ID), logx.Err(err))
		}
	}
	if err := s.arm(job); err != nil {
		s.log.Error("arm job failed", logx.Int64("job_id", job.ID), logx.String("job", job.Name), logx.Err(err))
		return false
	}
	return true
}

// Runs returns the newest run records of a job.
func (s *Service) Runs(ctx context.Context, id int64, limit int) ([]storage.RunRecord, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, id, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list runs for job %d", id)
	}
	return runs, nil
}

func (s *Service) arm(job storage.Job) error {
	id := job.ID
	return s.timers.Arm(id, dailySpec(job), func(ctx context.Context) error {
		return s.exec.Fire(ctx, id)
	})
}
