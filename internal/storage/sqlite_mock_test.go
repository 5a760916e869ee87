package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "contentpilot/pkg/logx"
)

func newMockStore(t *testing.T) (*sqliteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := newSQLiteStore(db, Config{}, logx.Nop())
	st.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return st, mock
}

func TestSQLiteMarkRunFinishedSuccessResetsStreak(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_jobs SET last_error=NULL, consecutive_failures=0`)).
		WithArgs(int64(1_700_000_000_000), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.MarkRunFinished(context.Background(), 5, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMarkRunFinishedFailureIncrements(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`consecutive_failures=consecutive_failures+1`)).
		WithArgs("timeout", int64(1_700_000_000_000), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.MarkRunFinished(context.Background(), 5, "timeout"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMissingRowIsNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_jobs SET last_error=?`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.MarkBlocked(context.Background(), 9, "disabled")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteExecErrorIsWrapped(t *testing.T) {
	st, mock := newMockStore(t)
	boom := errors.New("database is locked")
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM scheduled_jobs`)).
		WithArgs(int64(3)).
		WillReturnError(boom)

	err := st.DeleteJob(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "delete job 3")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteListJobsQueryError(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM scheduled_jobs WHERE is_active = 1`)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := st.ListActiveJobs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query jobs")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteCorruptListColumn(t *testing.T) {
	st, mock := newMockStore(t)
	cols := []string{
		"id", "user_id", "name", "schedule_time", "timezone",
		"selected_niches", "tones", "templates", "platforms",
		"use_existing_products", "generate_affiliate_links", "use_spartan_format", "use_smart_style",
		"ai_model", "affiliate_id", "webhook_url", "send_to_make_webhook", "is_active",
		"last_run_at", "next_run_at", "total_runs", "consecutive_failures", "last_error",
		"created_at", "updated_at",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		int64(1), "admin", "broken", "06:30", "UTC",
		"not-json", "[]", "[]", "[]",
		false, false, false, false,
		"claude", nil, nil, false, true,
		nil, int64(0), 0, 0, nil,
		int64(0), int64(0),
	)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ?`)).WithArgs(int64(1)).WillReturnRows(rows)

	_, err := st.GetJob(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode list column")
}
