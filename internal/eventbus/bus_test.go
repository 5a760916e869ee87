package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	PublishJob(b, JobStarted, JobEvent{JobID: 1})
	PublishJob(b, JobCompleted, JobEvent{JobID: 1})

	if ev := <-a; ev.Type != JobStarted {
		t.Fatalf("a got %q", ev.Type)
	}
	select {
	case ev := <-a:
		t.Fatalf("a should have dropped, got %q", ev.Type)
	default:
	}
	for _, want := range []string{JobStarted, JobCompleted} {
		ev := <-c
		if ev.Type != want {
			t.Fatalf("c got %q want %q", ev.Type, want)
		}
		if ev.Time.IsZero() {
			t.Fatalf("time not stamped")
		}
		if ev.Data.(JobEvent).JobID != 1 {
			t.Fatalf("payload lost")
		}
	}

	st := b.Stats()
	if st.Subscribers != 2 || st.Published != 2 || st.Dropped != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
	b.Publish(Event{Type: "x"})
	if b.Stats().Subscribers != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestMatchPrefix(t *testing.T) {
	if !MatchPrefix(JobFailed) {
		t.Fatalf("empty prefixes match all")
	}
	if !MatchPrefix(JobFailed, "task.", "job.") {
		t.Fatalf("job. should match")
	}
	if MatchPrefix(JobFailed, "task.") {
		t.Fatalf("task. should not match")
	}
	var nilBus Bus
	PublishJob(nilBus, JobStarted, JobEvent{})
}
