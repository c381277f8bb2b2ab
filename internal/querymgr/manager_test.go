package querymgr

import (
	"sync"
	"testing"
	"time"

	"modelreg/internal/metrics"
	"modelreg/internal/model"
	"modelreg/internal/region"
	"modelreg/internal/tracker"
)

func query(family string, min, max float64) *model.Query {
	return model.NewQuery(model.NewCategory("src", family, "obs"), region.FromInterval("x", min, max))
}

func slaves(t *tracker.MultiTracker) []*tracker.SlaveTracker {
	var out []*tracker.SlaveTracker
	for _, c := range t.Children() {
		if s, ok := c.(*tracker.SlaveTracker); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestSubmit_IdenticalQueryFollowsFirst(t *testing.T) {
	m := NewManager(nil, Config{})

	a := m.Submit(query("weather", 0, 10))
	if !region.Equivalent(a.Unsatisfied(), a.FullRegion()) {
		t.Fatalf("first tracker should own its whole region, unsatisfied = %v", a.Unsatisfied())
	}

	b := m.Submit(query("weather", 0, 10))
	if !b.IsSatisfied() {
		t.Errorf("second tracker unsatisfied = %v, want empty", b.Unsatisfied())
	}
	ss := slaves(b)
	if len(ss) != 1 || ss[0].Master() != tracker.Tracker(a) {
		t.Errorf("slaves = %v, want one slave of the first tracker", ss)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestSubmit_NoOverlap(t *testing.T) {
	tests := []struct {
		name  string
		first *model.Query
		next  *model.Query
	}{
		{"other family", query("weather", 0, 10), query("traffic", 0, 10)},
		{"disjoint region", query("weather", 0, 10), query("weather", 20, 30)},
		{"different parameters", query("weather", 0, 10),
			query("weather", 0, 10).WithParameters([]model.PropertyMatcher{
				model.Equal(model.NewPropertyDescriptor[string]("station"), "A"),
			})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil, Config{})
			m.Submit(tt.first)
			b := m.Submit(tt.next)
			if len(slaves(b)) != 0 {
				t.Errorf("unexpected slaves %v", slaves(b))
			}
			if b.IsSatisfied() {
				t.Error("tracker should still own its region")
			}
		})
	}
}

func TestSubmit_PartialOverlap(t *testing.T) {
	m := NewManager(nil, Config{})
	m.Submit(query("weather", 0, 10))
	b := m.Submit(query("weather", 5, 15))

	want := region.FromInterval("x", 10, 15)
	if !region.Equivalent(b.Unsatisfied(), want) {
		t.Errorf("Unsatisfied = %v, want %v", b.Unsatisfied(), want)
	}
}

func TestSubmit_WildcardFamily(t *testing.T) {
	m := NewManager(nil, Config{})
	a := m.Submit(query("weather", 0, 10))
	b := m.Submit(model.NewQuery(model.NewCategory("src", model.Wildcard, "obs"), region.FromInterval("x", 0, 10)))

	if !b.IsSatisfied() {
		t.Errorf("wildcard tracker unsatisfied = %v", b.Unsatisfied())
	}
	if got := m.Live(model.Wildcard); len(got) != 2 {
		t.Errorf("Live(*) = %d trackers, want 2", len(got))
	}
	if got := m.Live("weather"); len(got) != 1 || got[0] != a {
		t.Errorf("Live(weather) = %v", got)
	}
}

func TestSubmit_RemovedOnTermination(t *testing.T) {
	reg := metrics.New(false)
	m := NewManager(nil, Config{Metrics: reg})
	a := m.Submit(query("weather", 0, 10))
	b := m.Submit(query("traffic", 0, 10))

	a.Cancel()
	if m.Len() != 1 {
		t.Errorf("Len() = %d after cancel, want 1", m.Len())
	}
	if got := m.Live("weather"); len(got) != 0 {
		t.Errorf("Live(weather) = %v, want none", got)
	}

	m.CancelAll()
	if !b.IsDone() {
		t.Error("CancelAll left a tracker running")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestSlaveDone_Resubmits(t *testing.T) {
	resubmitted := make(chan *tracker.MultiTracker, 1)
	m := NewManager(nil, Config{Resubmit: func(t *tracker.MultiTracker) {
		resubmitted <- t
	}})

	a := m.Submit(query("weather", 0, 10))
	b := m.Submit(query("weather", 0, 10))
	a.Cancel()

	select {
	case got := <-resubmitted:
		if got != b {
			t.Errorf("resubmitted %s, want %s", got.ID(), b.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tracker not resubmitted after its master was cancelled")
	}
	m.Wait()

	if b.IsDone() {
		t.Errorf("follower status = %s, want RUNNING", b.Status())
	}
	if !region.Equivalent(b.Unsatisfied(), b.FullRegion()) {
		t.Errorf("region not returned, unsatisfied = %v", b.Unsatisfied())
	}
}

func TestSlaveDone_CancelledTrackerNotResubmitted(t *testing.T) {
	resubmits := 0
	var mu sync.Mutex
	m := NewManager(nil, Config{Resubmit: func(*tracker.MultiTracker) {
		mu.Lock()
		resubmits++
		mu.Unlock()
	}})

	a := m.Submit(query("weather", 0, 10))
	b := m.Submit(query("weather", 0, 10))
	// c follows a directly, so cancelling b leaves it alone.
	c := m.Submit(query("weather", 0, 10))
	b.Cancel()
	m.Wait()

	if !c.IsSatisfied() {
		t.Errorf("c unsatisfied = %v", c.Unsatisfied())
	}
	for _, s := range slaves(c) {
		if s.Master() != tracker.Tracker(a) {
			t.Errorf("c follows %s, want a", s.Master().ID())
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if resubmits != 0 {
		t.Errorf("resubmits = %d, want 0", resubmits)
	}
}

func TestSubmit_ConcurrentIdenticalQueries(t *testing.T) {
	m := NewManager(nil, Config{})
	const n = 20

	var wg sync.WaitGroup
	trackers := make([]*tracker.MultiTracker, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trackers[i] = m.Submit(query("weather", 0, 10))
		}(i)
	}
	wg.Wait()

	owners := 0
	for _, tr := range trackers {
		if !tr.IsSatisfied() {
			owners++
		}
	}
	if owners != 1 {
		t.Errorf("%d trackers own the region, want exactly 1", owners)
	}
}
