package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "contentpilot/pkg/logx"
)

// Store is the persistence API used by the job orchestrator.
//
// Mutations on a missing id return an error matching ErrNotFound.
type Store interface {
	ListJobs(ctx context.Context) ([]Job, error)
	ListActiveJobs(ctx context.Context) ([]Job, error)
	GetJob(ctx context.Context, id int64) (Job, error)

	// CreateJob assigns ID, CreatedAt and UpdatedAt and returns the stored row.
	CreateJob(ctx context.Context, j Job) (Job, error)
	// UpdateJob replaces the definition fields, IsActive and NextRunAt of an
	// existing row. Run statistics are left untouched.
	UpdateJob(ctx context.Context, j Job) (Job, error)
	DeleteJob(ctx context.Context, id int64) error

	// MarkRunStarted sets LastRunAt, increments TotalRuns and sets NextRunAt.
	MarkRunStarted(ctx context.Context, id int64, startedAt, nextRunAt time.Time) error
	// MarkRunFinished records an outcome. An empty errMsg is a success: LastError
	// is cleared and ConsecutiveFailures reset. Otherwise LastError is set and
	// ConsecutiveFailures incremented.
	MarkRunFinished(ctx context.Context, id int64, errMsg string) error
	// MarkBlocked records a safeguard denial as LastError without touching counters.
	MarkBlocked(ctx context.Context, id int64, reason string) error
	SetNextRun(ctx context.Context, id int64, nextRunAt time.Time) error

	AppendRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, jobID int64, limit int) ([]RunRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store. An empty driver means "memory".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return openMemory(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
