package changes

import (
	"context"
	"sync"
	"testing"
	"time"

	"modelreg/internal/jobs"
	"modelreg/internal/model"
)

func flush(t *testing.T, q *jobs.SerialQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestPublish_MatchesCategory(t *testing.T) {
	q := jobs.NewSerialQueue(nil)
	defer q.Close()
	m := NewManager(q, nil)

	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) Listener {
		return ListenerFunc(func(evt Event) {
			mu.Lock()
			got[name] += len(evt.IDs)
			mu.Unlock()
		})
	}

	m.Add(model.NewCategory("S", "F", "C"), record("exact"))
	m.Add(model.NewCategory("", "F", ""), record("family"))
	m.Add(model.NewCategory("S", "G", "C"), record("other"))

	m.Publish(Event{Category: model.NewCategory("S", "F", "C"), IDs: []int64{1, 2}, Type: Added})
	flush(t, q)

	mu.Lock()
	defer mu.Unlock()
	if got["exact"] != 2 || got["family"] != 2 {
		t.Errorf("matching listeners got %v", got)
	}
	if got["other"] != 0 {
		t.Errorf("non-matching listener got %d ids", got["other"])
	}
}

func TestPublish_EmptyEventDropped(t *testing.T) {
	q := jobs.NewSerialQueue(nil)
	defer q.Close()
	m := NewManager(q, nil)

	called := false
	m.Add(model.Category{}, ListenerFunc(func(Event) { called = true }))
	m.Publish(Event{Category: model.NewCategory("S", "F", "C")})
	flush(t, q)

	if called {
		t.Error("event without ids should not be delivered")
	}
}

func TestUnsubscribe(t *testing.T) {
	q := jobs.NewSerialQueue(nil)
	defer q.Close()
	m := NewManager(q, nil)

	count := 0
	sub := m.Add(model.Category{}, ListenerFunc(func(Event) { count++ }))
	sub.Unsubscribe()
	sub.Unsubscribe()

	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	m.Publish(Event{IDs: []int64{1}})
	flush(t, q)
	if count != 0 {
		t.Errorf("unsubscribed listener called %d times", count)
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	q := jobs.NewSerialQueue(nil)
	defer q.Close()
	m := NewManager(q, nil)

	m.Add(model.Category{}, ListenerFunc(func(Event) { panic("listener bug") }))
	delivered := make(chan struct{}, 1)
	m.Add(model.Category{}, ListenerFunc(func(Event) { delivered <- struct{}{} }))

	m.Publish(Event{IDs: []int64{1}, Type: Updated})
	flush(t, q)

	select {
	case <-delivered:
	default:
		t.Error("second listener not called after first panicked")
	}
}
