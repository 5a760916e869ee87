package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/storage"
	logx "contentpilot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	sent  []string
	fails int
}

func (r *recorder) Send(_ context.Context, _ Target, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("telegram: 502")
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recorder) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Target:        Target{ChatID: 42},
		Workers:       1,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func stopNow(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestFailedJobEventProducesAlert(t *testing.T) {
	bus := eventbus.New()
	rec := &recorder{fails: 1}
	s := New(testConfig(), rec, logx.Nop(), bus, nil)
	s.Start(context.Background())

	eventbus.PublishJob(bus, eventbus.JobFailed, eventbus.JobEvent{JobID: 3, JobName: "Morning <Beauty>", Origin: "scheduled_job", Error: "quota exceeded"})
	eventbus.PublishJob(bus, eventbus.JobCompleted, eventbus.JobEvent{JobID: 3})

	require.Eventually(t, func() bool { return len(rec.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stopNow(t, s)

	msg := rec.Sent()[0]
	assert.True(t, strings.HasPrefix(msg, "⚠️ <b>Job failed</b>"), msg)
	assert.Contains(t, msg, "Morning &lt;Beauty&gt; (#3)")
	assert.Contains(t, msg, "quota exceeded")
	assert.Len(t, s.Snapshot(), 1)
}

func TestDedupSuppressesRepeatsPerJob(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec, logx.Nop(), nil, nil)
	s.Start(context.Background())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Notify(ctx, Notification{Key: "job.failed:1", Text: "first job failing"}))
	}
	require.NoError(t, s.Notify(ctx, Notification{Key: "job.failed:2", Text: "second job failing"}))
	stopNow(t, s)

	assert.ElementsMatch(t, []string{"first job failing", "second job failing"}, rec.Sent())
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	cfg := testConfig()
	cfg.PersistDedup = true
	ctx := context.Background()

	rec := &recorder{}
	s := New(cfg, rec, logx.Nop(), nil, store)
	s.Start(ctx)
	require.NoError(t, s.Notify(ctx, Notification{Key: "k", Text: "once"}))
	stopNow(t, s)
	require.Len(t, rec.Sent(), 1)

	rec2 := &recorder{}
	s2 := New(cfg, rec2, logx.Nop(), nil, store)
	s2.Start(ctx)
	require.NoError(t, s2.Notify(ctx, Notification{Key: "k", Text: "once"}))
	stopNow(t, s2)
	assert.Empty(t, rec2.Sent())
}

func TestDisabledAndStopped(t *testing.T) {
	s := New(Config{}, &recorder{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrDisabled)

	s = New(testConfig(), &recorder{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrStopped)
}

func TestRetryGivesUpAfterMax(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	rec := &recorder{fails: 10}
	s := New(testConfig(), rec, logx.Nop(), bus, nil)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), Notification{Text: "doomed"}))

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-ch:
				if ev.Type == "notifier.failed" {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
	stopNow(t, s)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 7, rec.fails, "one attempt plus two retries")
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Less(t, retryDelay(cfg, 1), 131*time.Millisecond)
}

func TestAlertForEmergencyStop(t *testing.T) {
	n, ok := alertFor(eventbus.Event{Type: eventbus.JobsStopped, Data: map[string]int{"stoppedCount": 4}})
	require.True(t, ok)
	assert.Equal(t, 9, n.Priority)
	assert.Contains(t, n.Text, "4 timer(s)")

	_, ok = alertFor(eventbus.Event{Type: eventbus.JobFailed, Data: "not a job event"})
	assert.False(t, ok)
}
