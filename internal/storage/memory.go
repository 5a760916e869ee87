package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "contentpilot/pkg/logx"
)

// memoryStore keeps everything in process memory.
//
// When Path is set, the full state is written to a JSON snapshot after every
// mutation (write to <path>.tmp, then rename) and reloaded on open.
type memoryStore struct {
	log logx.Logger
	cfg Config

	mu     sync.Mutex
	nextID int64
	jobs   map[int64]Job
	runs   map[int64][]RunRecord // oldest first
	dedup  map[string]int64      // unix milli

	snapshotPath string
	now          func() time.Time
}

type memorySnapshot struct {
	NextID int64                 `json:"next_id"`
	Jobs   []Job                 `json:"jobs"`
	Runs   map[int64][]RunRecord `json:"runs,omitempty"`
	Dedup  map[string]int64      `json:"dedup,omitempty"`
}

func openMemory(cfg Config, log logx.Logger) (Store, error) {
	s := &memoryStore{
		log:          log,
		cfg:          cfg,
		jobs:         map[int64]Job{},
		runs:         map[int64][]RunRecord{},
		dedup:        map[string]int64{},
		snapshotPath: strings.TrimSpace(cfg.Path),
		now:          time.Now,
	}
	if s.snapshotPath == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir")
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "load snapshot %s", s.snapshotPath)
	}
	pruneExpiredDedup(s.dedup, s.now())
	return s, nil
}

// NewMemory returns a non-persistent store (tests and dry runs).
func NewMemory() Store {
	st, _ := openMemory(Config{}, logx.Nop())
	return st
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *memoryStore) ListJobs(ctx context.Context) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(Job) bool { return true }), nil
}

func (s *memoryStore) ListActiveJobs(ctx context.Context) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(j Job) bool { return j.IsActive }), nil
}

func (s *memoryStore) sortedLocked(keep func(Job) bool) []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *memoryStore) GetJob(ctx context.Context, id int64) (Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	return j.Clone(), nil
}

func (s *memoryStore) CreateJob(ctx context.Context, j Job) (Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prevID := s.nextID
	s.nextID++
	now := s.now()
	j = j.Clone()
	j.ID = s.nextID
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	if err := s.commitLocked(func() {
		delete(s.jobs, j.ID)
		s.nextID = prevID
	}); err != nil {
		return Job{}, err
	}
	return j.Clone(), nil
}

func (s *memoryStore) UpdateJob(ctx context.Context, j Job) (Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[j.ID]
	if !ok {
		return Job{}, notFound(j.ID)
	}
	next := j.Clone()
	next.LastRunAt = cur.LastRunAt
	next.TotalRuns = cur.TotalRuns
	next.ConsecutiveFailures = cur.ConsecutiveFailures
	next.LastError = cur.LastError
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	s.jobs[j.ID] = next
	if err := s.commitLocked(func() { s.jobs[j.ID] = cur }); err != nil {
		return Job{}, err
	}
	return next.Clone(), nil
}

func (s *memoryStore) DeleteJob(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[id]
	if !ok {
		return notFound(id)
	}
	runs, hadRuns := s.runs[id]
	delete(s.jobs, id)
	delete(s.runs, id)
	return s.commitLocked(func() {
		s.jobs[id] = cur
		if hadRuns {
			s.runs[id] = runs
		}
	})
}

func (s *memoryStore) mutate(id int64, fn func(j *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[id]
	if !ok {
		return notFound(id)
	}
	j := cur.Clone()
	fn(&j)
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	return s.commitLocked(func() { s.jobs[id] = cur })
}

func (s *memoryStore) MarkRunStarted(ctx context.Context, id int64, startedAt, nextRunAt time.Time) error {
	_ = ctx
	return s.mutate(id, func(j *Job) {
		at := startedAt
		j.LastRunAt = &at
		j.TotalRuns++
		j.NextRunAt = nextRunAt
	})
}

func (s *memoryStore) MarkRunFinished(ctx context.Context, id int64, errMsg string) error {
	_ = ctx
	return s.mutate(id, func(j *Job) {
		if errMsg == "" {
			j.LastError = nil
			j.ConsecutiveFailures = 0
			return
		}
		msg := errMsg
		j.LastError = &msg
		j.ConsecutiveFailures++
	})
}

func (s *memoryStore) MarkBlocked(ctx context.Context, id int64, reason string) error {
	_ = ctx
	return s.mutate(id, func(j *Job) {
		msg := reason
		j.LastError = &msg
	})
}

func (s *memoryStore) SetNextRun(ctx context.Context, id int64, nextRunAt time.Time) error {
	_ = ctx
	return s.mutate(id, func(j *Job) { j.NextRunAt = nextRunAt })
}

func (s *memoryStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.runs[r.JobID]
	runs := append(append([]RunRecord(nil), prev...), r)
	if over := len(runs) - s.cfg.historyCap(); over > 0 {
		runs = runs[over:]
	}
	s.runs[r.JobID] = runs
	return s.commitLocked(func() {
		if had {
			s.runs[r.JobID] = prev
		} else {
			delete(s.runs, r.JobID)
		}
	})
}

func (s *memoryStore) ListRuns(ctx context.Context, jobID int64, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[jobID]
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	// Newest first.
	out := make([]RunRecord, 0, limit)
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (s *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.dedup[key]
	s.dedup[key] = until.UnixMilli()
	return s.commitLocked(func() {
		if had {
			s.dedup[key] = prev
		} else {
			delete(s.dedup, key)
		}
	})
}

func (s *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// commitLocked writes the snapshot for a mutation already applied to the
// maps. On failure undo reverts the maps so memory never runs ahead of disk.
func (s *memoryStore) commitLocked(undo func()) error {
	if err := s.persistLocked(); err != nil {
		undo()
		return err
	}
	return nil
}

func (s *memoryStore) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	pruneExpiredDedup(s.dedup, s.now())
	snap := memorySnapshot{
		NextID: s.nextID,
		Jobs:   s.sortedLocked(func(Job) bool { return true }),
		Runs:   s.runs,
		Dedup:  s.dedup,
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return errors.Wrap(err, "rename snapshot")
	}
	return nil
}

func (s *memoryStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap memorySnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.nextID = snap.NextID
	for _, j := range snap.Jobs {
		s.jobs[j.ID] = j
		if j.ID > s.nextID {
			s.nextID = j.ID
		}
	}
	for id, runs := range snap.Runs {
		s.runs[id] = runs
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	s.log.Debug("storage snapshot loaded", logx.String("path", s.snapshotPath), logx.Int("jobs", len(s.jobs)))
	return nil
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}

func notFound(id int64) error {
	return errors.Wrapf(ErrNotFound, "job %d", id)
}
