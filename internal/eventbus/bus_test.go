package eventbus

import "testing"

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	jobs, unsubJobs := b.Subscribe(4, JobFired, JobCancelled)
	defer unsubJobs()

	b.Publish(Event{Type: AlertPublished, Target: "a1"})
	b.Publish(Event{Type: JobFired, Target: "j1"})

	if got := len(all); got != 2 {
		t.Fatalf("expected 2 events for catch-all subscriber, got %d", got)
	}
	if got := len(jobs); got != 1 {
		t.Fatalf("expected 1 job event, got %d", got)
	}
	e := <-jobs
	if e.Target != "j1" || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: JobScheduled})
	b.Publish(Event{Type: JobScheduled})
	if len(ch) != 1 {
		t.Fatalf("expected buffer of 1 to hold one event, got %d", len(ch))
	}
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: JobScheduled})
}
