package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/task/engine"
	logx "contentpilot/pkg/logx"
)

// Dispatcher receives fired tasks. *engine.Service satisfies it.
type Dispatcher interface {
	Enqueue(t engine.Task) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(t engine.Task) error

func (f DispatchFunc) Enqueue(t engine.Task) error { return f(t) }

// Inline runs tasks synchronously on the cron goroutine, honoring the RunState.
var Inline = DispatchFunc(func(t engine.Task) error {
	if !t.State.TryAcquire() {
		return engine.ErrOverlapSkip
	}
	defer t.State.Release()
	ctx := context.Background()
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return t.Run(ctx)
})

// EntryStatus is a diagnostic view of one armed timer.
type EntryStatus struct {
	JobID     int64     `json:"id"`
	Spec      string    `json:"spec"`
	Running   bool      `json:"running"`
	Destroyed bool      `json:"destroyed"`
	Executing bool      `json:"executing"`
	Next      time.Time `json:"nextFire,omitzero"`
	Prev      time.Time `json:"prevFire,omitzero"`
}

type entry struct {
	cronID  cron.EntryID
	spec    DailySpec
	expr    string
	armedAt time.Time
}

// Registry maps job ids to armed cron entries and execution locks.
// All mutations of the timer map happen under mu, so a teardown and the
// re-arm that follows it are one critical section.
type Registry struct {
	mu       sync.Mutex
	log      logx.Logger
	bus      eventbus.Bus
	dispatch Dispatcher
	timeout  time.Duration

	c          *cron.Cron
	started    bool
	gen        uint64
	stopOnDone func() bool
	entries    map[int64]*entry
	// locks lives as long as the job: teardown and re-arm reuse the same
	// RunState so a fire queued by a removed entry still excludes new runs.
	locks      map[int64]*engine.RunState

	enqMu       sync.Mutex
	lastEnqWarn map[int64]time.Time
}

// NewRegistry builds a registry. A nil dispatcher runs fires inline.
// runTimeout bounds each fire (0 means the dispatcher's default).
func NewRegistry(dispatch Dispatcher, runTimeout time.Duration, log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if dispatch == nil {
		dispatch = Inline
	}
	log = log.With(logx.String("comp", "registry"))
	clog := cronLogger{log: log}
	return &Registry{
		log:      log,
		bus:      bus,
		dispatch: dispatch,
		timeout:  runTimeout,
		c: cron.New(
			cron.WithParser(specParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog)),
		),
		entries:     map[int64]*entry{},
		locks:       map[int64]*engine.RunState{},
		lastEnqWarn: map[int64]time.Time{},
	}
}

// Start starts the cron clock. Entries armed before Start fire once it runs.
// The clock stops on its own when ctx is done.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.c.Start()
	r.started = true
	r.gen++
	gen := r.gen
	r.stopOnDone = context.AfterFunc(ctx, func() {
		r.mu.Lock()
		if !r.started || r.gen != gen {
			r.mu.Unlock()
			return
		}
		done := r.haltLocked()
		r.mu.Unlock()
		<-done.Done()
		r.log.Info("timer registry stopped", logx.String("cause", "context done"))
	})
	r.log.Info("timer registry started", logx.Int("armed", len(r.entries)))
}

// Stop halts the cron clock and waits for running cron callbacks until ctx is done.
// Armed entries are kept.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	done := r.haltLocked()
	r.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	r.log.Info("timer registry stopped")
}

func (r *Registry) haltLocked() context.Context {
	r.started = false
	if r.stopOnDone != nil {
		r.stopOnDone()
		r.stopOnDone = nil
	}
	return r.c.Stop()
}

// Started reports whether the cron clock is running.
func (r *Registry) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Arm replaces any timer for id with a daily timer for spec. Each fire
// dispatches run as a task guarded by the job's execution lock.
func (r *Registry) Arm(id int64, spec DailySpec, run func(ctx context.Context) error) error {
	if run == nil {
		return fmt.Errorf("arm job %d: nil run", id)
	}
	expr, sched, err := parseDaily(spec)
	if err != nil {
		return fmt.Errorf("arm job %d: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownLocked(id)
	if residual, ok := r.entries[id]; ok {
		// teardownLocked always deletes; this only trips on a broken invariant.
		r.log.Error("residual timer after teardown", logx.Int64("job_id", id), logx.Int("entry", int(residual.cronID)))
		r.c.Remove(residual.cronID)
		delete(r.entries, id)
	}

	lock := r.lockLocked(id)
	name := "job." + strconv.FormatInt(id, 10)
	timeout := r.timeout
	cronID := r.c.Schedule(sched, cron.FuncJob(func() {
		err := r.dispatch.Enqueue(engine.Task{Name: name, Timeout: timeout, State: lock, Run: run})
		r.reportEnqueueError(id, err)
	}))
	r.entries[id] = &entry{cronID: cronID, spec: spec, expr: expr, armedAt: time.Now()}

	next := r.c.Entry(cronID).Next
	r.log.Debug("timer armed", logx.Int64("job_id", id), logx.String("spec", expr), logx.Time("next", next))
	eventbus.PublishJob(r.bus, eventbus.JobArmed, eventbus.JobEvent{JobID: id, NextFire: next})
	return nil
}

// Teardown destroys the timer for id. It is a no-op for unknown ids.
// The execution lock is kept.
func (r *Registry) Teardown(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardownLocked(id)
}

func (r *Registry) teardownLocked(id int64) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	r.c.Remove(e.cronID)
	delete(r.entries, id)
	r.log.Debug("timer destroyed", logx.Int64("job_id", id))
	eventbus.PublishJob(r.bus, eventbus.JobDisarmed, eventbus.JobEvent{JobID: id})
	return true
}

// Forget drops the execution lock of a deleted job. A held lock or a still
// armed timer keeps it; it returns whether the lock was dropped.
func (r *Registry) Forget(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, armed := r.entries[id]; armed {
		return false
	}
	l, ok := r.locks[id]
	if !ok || l.Running() {
		return false
	}
	delete(r.locks, id)
	return true
}

// StopAll destroys every timer and returns how many were armed.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.teardownLocked(id)
	}
	return len(ids)
}

// Reset wipes the registry before a full re-arm.
func (r *Registry) Reset() {
	if n := r.StopAll(); n > 0 {
		r.log.Info("timer registry reset", logx.Int("destroyed", n))
	}
}

func (r *Registry) Armed(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot is diagnostic only, sorted by job id.
func (r *Registry) Snapshot() []EntryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryStatus, 0, len(r.entries))
	for id, e := range r.entries {
		ce := r.c.Entry(e.cronID)
		out = append(out, EntryStatus{
			JobID:     id,
			Spec:      e.expr,
			Running:   r.started && ce.Valid(),
			Destroyed: !ce.Valid(),
			Executing: r.locks[id].Running(),
			Next:      ce.Next,
			Prev:      ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// TryAcquire takes the execution lock for id.
func (r *Registry) TryAcquire(id int64) bool {
	r.mu.Lock()
	l := r.lockLocked(id)
	r.mu.Unlock()
	return l.TryAcquire()
}

func (r *Registry) Release(id int64) {
	r.mu.Lock()
	l := r.locks[id]
	r.mu.Unlock()
	l.Release()
}

// Running reports whether id currently holds its execution lock.
func (r *Registry) Running(id int64) bool {
	r.mu.Lock()
	l := r.locks[id]
	r.mu.Unlock()
	return l.Running()
}

func (r *Registry) lockLocked(id int64) *engine.RunState {
	l, ok := r.locks[id]
	if !ok {
		l = &engine.RunState{}
		r.locks[id] = l
	}
	return l
}
