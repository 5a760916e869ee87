package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "contentpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	cfg Config
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sqlite dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := newSQLiteStore(db, cfg, log)

	// Basic pragmas.
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func newSQLiteStore(db *sql.DB, cfg Config, log logx.Logger) *sqliteStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqliteStore{db: db, log: log, cfg: cfg, now: time.Now, pruneEvery: 500}
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `id, user_id, name, schedule_time, timezone,
	selected_niches, tones, templates, platforms,
	use_existing_products, generate_affiliate_links, use_spartan_format, use_smart_style,
	ai_model, affiliate_id, webhook_url, send_to_make_webhook, is_active,
	last_run_at, next_run_at, total_runs, consecutive_failures, last_error,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j                                   Job
		niches, tones, templates, platforms string
		affiliateID, webhookURL, lastError  sql.NullString
		lastRunAt                           sql.NullInt64
		nextRunAt, createdAt, updatedAt     int64
	)
	err := r.Scan(
		&j.ID, &j.UserID, &j.Name, &j.ScheduleTime, &j.Timezone,
		&niches, &tones, &templates, &platforms,
		&j.UseExistingProducts, &j.GenerateAffiliateLinks, &j.UseSpartanFormat, &j.UseSmartStyle,
		&j.AIModel, &affiliateID, &webhookURL, &j.SendToMakeWebhook, &j.IsActive,
		&lastRunAt, &nextRunAt, &j.TotalRuns, &j.ConsecutiveFailures, &lastError,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{niches, &j.SelectedNiches},
		{tones, &j.Tones},
		{templates, &j.Templates},
		{platforms, &j.Platforms},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Job{}, errors.Wrapf(err, "decode list column for job %d", j.ID)
		}
	}
	j.AffiliateID = ptrFromNull(affiliateID)
	j.WebhookURL = ptrFromNull(webhookURL)
	j.LastError = ptrFromNull(lastError)
	if lastRunAt.Valid {
		t := time.UnixMilli(lastRunAt.Int64).UTC()
		j.LastRunAt = &t
	}
	j.NextRunAt = time.UnixMilli(nextRunAt).UTC()
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	j.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return j, nil
}

func (s *sqliteStore) queryJobs(ctx context.Context, where string) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs `+where+` ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query jobs")
	}
	defer rows.Close()
	out := make([]Job, 0, 16)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "iterate jobs")
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "")
}

func (s *sqliteStore) ListActiveJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE is_active = 1")
}

func (s *sqliteStore) GetJob(ctx context.Context, id int64) (Job, error) {
	if s == nil || s.db == nil {
		return Job{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, notFound(id)
	}
	if err != nil {
		return Job{}, errors.Wrapf(err, "get job %d", id)
	}
	return j, nil
}

// definitionArgs returns the definition columns shared by insert and update, ending with next_run_at.
func definitionArgs(j Job) ([]any, error) {
	lists := make([]string, 0, 4)
	for _, l := range [][]string{j.SelectedNiches, j.Tones, j.Templates, j.Platforms} {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		lists = append(lists, string(b))
	}
	return []any{
		j.UserID, j.Name, j.ScheduleTime, j.Timezone,
		lists[0], lists[1], lists[2], lists[3],
		j.UseExistingProducts, j.GenerateAffiliateLinks, j.UseSpartanFormat, j.UseSmartStyle,
		j.AIModel, nullPtr(j.AffiliateID), nullPtr(j.WebhookURL), j.SendToMakeWebhook, j.IsActive,
		j.NextRunAt.UnixMilli(),
	}, nil
}

func (s *sqliteStore) CreateJob(ctx context.Context, j Job) (Job, error) {
	if s == nil || s.db == nil {
		return Job{}, ErrDisabled
	}
	args, err := definitionArgs(j)
	if err != nil {
		return Job{}, errors.Wrap(err, "encode job")
	}
	now := s.now().UnixMilli()
	args = append(args, now, now)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs(user_id, name, schedule_time, timezone,
			selected_niches, tones, templates, platforms,
			use_existing_products, generate_affiliate_links, use_spartan_format, use_smart_style,
			ai_model, affiliate_id, webhook_url, send_to_make_webhook, is_active,
			next_run_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		args...,
	)
	if err != nil {
		return Job{}, errors.Wrap(err, "insert job")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Job{}, errors.Wrap(err, "insert job id")
	}
	return s.GetJob(ctx, id)
}

func (s *sqliteStore) UpdateJob(ctx context.Context, j Job) (Job, error) {
	if s == nil || s.db == nil {
		return Job{}, ErrDisabled
	}
	args, err := definitionArgs(j)
	if err != nil {
		return Job{}, errors.Wrap(err, "encode job")
	}
	args = append(args, s.now().UnixMilli(), j.ID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET user_id=?, name=?, schedule_time=?, timezone=?,
			selected_niches=?, tones=?, templates=?, platforms=?,
			use_existing_products=?, generate_affiliate_links=?, use_spartan_format=?, use_smart_style=?,
			ai_model=?, affiliate_id=?, webhook_url=?, send_to_make_webhook=?, is_active=?,
			next_run_at=?, updated_at=?
		 WHERE id=?`,
		args...,
	)
	if err := checkAffected(res, err, j.ID, "update job"); err != nil {
		return Job{}, err
	}
	return s.GetJob(ctx, j.ID)
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err := checkAffected(res, err, id, "delete job"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE job_id = ?`, id); err != nil {
		s.log.Warn("delete job runs failed", logx.Int64("job_id", id), logx.Err(err))
	}
	return nil
}

func (s *sqliteStore) exec(ctx context.Context, id int64, op, query string, args ...any) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	return checkAffected(res, err, id, op)
}

func (s *sqliteStore) MarkRunStarted(ctx context.Context, id int64, startedAt, nextRunAt time.Time) error {
	return s.exec(ctx, id, "mark run started",
		`UPDATE scheduled_jobs SET last_run_at=?, total_runs=total_runs+1, next_run_at=?, updated_at=? WHERE id=?`,
		startedAt.UnixMilli(), nextRunAt.UnixMilli(), s.now().UnixMilli(), id,
	)
}

func (s *sqliteStore) MarkRunFinished(ctx context.Context, id int64, errMsg string) error {
	if errMsg == "" {
		return s.exec(ctx, id, "mark run succeeded",
			`UPDATE scheduled_jobs SET last_error=NULL, consecutive_failures=0, updated_at=? WHERE id=?`,
			s.now().UnixMilli(), id,
		)
	}
	return s.exec(ctx, id, "mark run failed",
		`UPDATE scheduled_jobs SET last_error=?, consecutive_failures=consecutive_failures+1, updated_at=? WHERE id=?`,
		errMsg, s.now().UnixMilli(), id,
	)
}

func (s *sqliteStore) MarkBlocked(ctx context.Context, id int64, reason string) error {
	return s.exec(ctx, id, "mark blocked",
		`UPDATE scheduled_jobs SET last_error=?, updated_at=? WHERE id=?`,
		reason, s.now().UnixMilli(), id,
	)
}

func (s *sqliteStore) SetNextRun(ctx context.Context, id int64, nextRunAt time.Time) error {
	return s.exec(ctx, id, "set next run",
		`UPDATE scheduled_jobs SET next_run_at=?, updated_at=? WHERE id=?`,
		nextRunAt.UnixMilli(), s.now().UnixMilli(), id,
	)
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(id, job_id, origin, status, started_at, duration_ms, generated_count, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.JobID, r.Origin, r.Status, r.StartedAt.UnixMilli(), r.DurationMS, r.GeneratedCount, nullStr(r.Error),
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE job_id = ? AND id NOT IN (
			SELECT id FROM job_runs WHERE job_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?)`,
		r.JobID, r.JobID, s.cfg.historyCap(),
	)
	return errors.Wrap(err, "prune runs")
}

func (s *sqliteStore) ListRuns(ctx context.Context, jobID int64, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = s.cfg.historyCap()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, origin, status, started_at, duration_ms, generated_count, err
		 FROM job_runs WHERE job_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()
	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			r       RunRecord
			started int64
			msg     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.Origin, &r.Status, &started, &r.DurationMS, &r.GeneratedCount, &msg); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.Error = msg.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func checkAffected(res sql.Result, err error, id int64, op string) error {
	if err != nil {
		return errors.Wrapf(err, "%s %d", op, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s %d", op, id)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullPtr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
