package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"contentpilot/internal/eventbus"
	logx "contentpilot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueSkipsWhileRunStateHeld(t *testing.T) {
	s := startEngine(t, Config{Workers: 2, QueueSize: 8}, nil)

	st := &RunState{}
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	task := Task{Name: "job.1", State: st, Run: func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started

	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("expected ErrOverlapSkip, got %v", err)
	}
	if !st.Running() {
		t.Fatalf("state should be held while running")
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for st.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if st.Running() {
		t.Fatalf("state not released after run")
	}
	if runs.Load() != 1 {
		t.Fatalf("runs=%d", runs.Load())
	}
	if s.Snapshot().Skipped != 1 {
		t.Fatalf("skipped=%d", s.Snapshot().Skipped)
	}
}

func TestPanicIsRecoveredAndStateReleased(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4}, bus)

	st := &RunState{}
	if err := s.Enqueue(Task{Name: "bad", State: st, Run: func(context.Context) error { panic("oops") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != "task.failed" {
				continue
			}
			te := ev.Data.(TaskEvent)
			if te.Error != "panic: oops" {
				t.Fatalf("error=%q", te.Error)
			}
			// Release happens in a deferred call after publish; give it a moment.
			deadline := time.Now().Add(time.Second)
			for st.Running() && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			if st.Running() {
				t.Fatalf("state still held after panic")
			}
			if len(s.Snapshot().History) != 1 {
				t.Fatalf("history not recorded")
			}
			return
		case <-timeout:
			t.Fatalf("no task.failed event")
		}
	}
}

func TestQueueFullReleasesState(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	// Not started: simulate a saturated queue without workers.
	s.mu.Lock()
	s.q = make(chan queuedTask, 1)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	run := func(context.Context) error { return nil }
	if err := s.Enqueue(Task{Name: "a", Run: run}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	st := &RunState{}
	if err := s.Enqueue(Task{Name: "b", Run: run, State: st}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if st.Running() {
		t.Fatalf("state must be released when dropped")
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped=%d", s.Snapshot().Dropped)
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("nil Run should be rejected")
	}
}

func TestTimeoutAppliesToRun(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	done := make(chan error, 1)
	err := s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout not applied")
	}
}

func TestRunStateNilIsAlwaysFree(t *testing.T) {
	var st *RunState
	if !st.TryAcquire() || !st.TryAcquire() {
		t.Fatalf("nil state should never block")
	}
	st.Release()
	if st.Running() {
		t.Fatalf("nil state never runs")
	}
}
