// Package querymgr keeps track of in-flight top-level queries and lets new
// queries follow work that is already under way instead of fetching it again.
package querymgr

import (
	"sync"

	"modelreg/internal/logging"
	"modelreg/internal/metrics"
	"modelreg/internal/model"
	"modelreg/internal/tracker"
)

// ResubmitFunc runs a fresh satisfaction pass over a tracker that has
// unsatisfied region again after one of its slaves finished.
type ResubmitFunc func(t *tracker.MultiTracker)

// Manager registers live trackers by family and deduplicates overlapping
// queries.
type Manager struct {
	logger   *logging.Logger
	opts     tracker.Options
	metrics  *metrics.Metrics
	resubmit ResubmitFunc

	mu       sync.RWMutex
	families map[string][]*tracker.MultiTracker
	live     int

	// submitMu is held for reading by family submissions and for writing by
	// wildcard-family submissions, which scan every family.
	submitMu    sync.RWMutex
	familyLocks sync.Map // family -> *sync.Mutex

	wg sync.WaitGroup
}

// Config holds the manager's collaborators.
type Config struct {
	Tracker  tracker.Options
	Metrics  *metrics.Metrics
	Resubmit ResubmitFunc
}

// NewManager creates an empty manager.
func NewManager(logger *logging.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Tracker.Logger == nil {
		cfg.Tracker.Logger = logger
	}
	return &Manager{
		logger:   logger,
		opts:     cfg.Tracker,
		metrics:  cfg.Metrics,
		resubmit: cfg.Resubmit,
		families: make(map[string][]*tracker.MultiTracker),
	}
}

// SetResubmit installs the resubmit callback. It must be called before the
// first Submit.
func (m *Manager) SetResubmit(fn ResubmitFunc) {
	m.resubmit = fn
}

// Submit creates a top-level tracker for q, slaves whatever it can onto
// overlapping live trackers, and registers it. The caller runs the
// satisfaction pass over the remaining unsatisfied region.
func (m *Manager) Submit(q *model.Query) *tracker.MultiTracker {
	t := tracker.NewMultiTracker(q, m.opts)
	t.SetSlaveDoneHook(m.handleSlaveDone)
	family := q.Category.Family

	unlock := m.lockFamily(family)
	attached := m.scan(t)
	m.register(t)
	unlock()

	m.metrics.QuerySubmitted(family)
	m.metrics.SlavesAttached(attached)
	if attached > 0 {
		m.logger.Debug("Query follows in-flight work", map[string]interface{}{
			"tracker":  t.ID(),
			"category": q.Category.String(),
			"slaves":   attached,
		})
	}

	// Registered after the tracker is in the map so removal cannot run first.
	t.AddListener(tracker.ListenerFuncs{
		OnStatus: func(_ tracker.Tracker, status tracker.Status) {
			if status.IsTerminal() {
				m.remove(t, status)
			}
		},
	})
	return t
}

// lockFamily serializes submissions that could see each other.
func (m *Manager) lockFamily(family string) func() {
	if family == model.Wildcard {
		m.submitMu.Lock()
		return m.submitMu.Unlock
	}
	m.submitMu.RLock()
	v, _ := m.familyLocks.LoadOrStore(family, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return func() {
		mu.Unlock()
		m.submitMu.RUnlock()
	}
}

// scan runs the overlap check of t against every candidate, in submission
// order, until t is satisfied. It returns the number of slaves t gained.
func (m *Manager) scan(t *tracker.MultiTracker) int {
	before := countSlaves(t)
	for _, other := range m.candidates(t.Query().Category.Family) {
		if t.IsSatisfied() {
			break
		}
		t.CheckOverlap(other)
	}
	return countSlaves(t) - before
}

func countSlaves(t *tracker.MultiTracker) int {
	n := 0
	for _, c := range t.Children() {
		if _, ok := c.(*tracker.SlaveTracker); ok {
			n++
		}
	}
	return n
}

// candidates returns the live trackers a query of family could overlap.
// A wildcard family matches every family, and every family matches
// wildcard-family trackers.
func (m *Manager) candidates(family string) []*tracker.MultiTracker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*tracker.MultiTracker
	if family == model.Wildcard {
		for _, ts := range m.families {
			out = append(out, ts...)
		}
		return out
	}
	out = append(out, m.families[family]...)
	out = append(out, m.families[model.Wildcard]...)
	return out
}

func (m *Manager) register(t *tracker.MultiTracker) {
	family := t.Query().Category.Family
	m.mu.Lock()
	m.families[family] = append(m.families[family], t)
	m.live++
	live := m.live
	m.mu.Unlock()
	m.metrics.SetLiveTrackers(live)
}

func (m *Manager) remove(t *tracker.MultiTracker, status tracker.Status) {
	family := t.Query().Category.Family
	m.mu.Lock()
	ts := m.families[family]
	found := false
	for i, x := range ts {
		if x == t {
			ts = append(ts[:i:i], ts[i+1:]...)
			found = true
			break
		}
	}
	if len(ts) == 0 {
		delete(m.families, family)
	} else {
		m.families[family] = ts
	}
	if found {
		m.live--
	}
	live := m.live
	m.mu.Unlock()

	if !found {
		return
	}
	m.metrics.SetLiveTrackers(live)
	m.metrics.TrackerFinished(status.String())
}

// handleSlaveDone is the slave-done hook of every submitted tracker. It
// runs on the notification goroutine, so the work is moved off it.
func (m *Manager) handleSlaveDone(t *tracker.MultiTracker) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconcile(t)
	}()
}

// reconcile gives t a second overlap scan for the region a finished slave
// returned. What is still unsatisfied afterwards is resubmitted.
func (m *Manager) reconcile(t *tracker.MultiTracker) {
	if t.IsDone() {
		return
	}
	unlock := m.lockFamily(t.Query().Category.Family)
	attached := m.scan(t)
	unlock()
	m.metrics.SlavesAttached(attached)

	if t.IsDone() || t.IsSatisfied() {
		return
	}
	if m.resubmit == nil {
		m.logger.Warn("Tracker has unsatisfied region and no resubmit handler", map[string]interface{}{
			"tracker": t.ID(),
		})
		return
	}
	m.metrics.Resubmitted()
	m.logger.Debug("Resubmitting tracker", map[string]interface{}{
		"tracker":     t.ID(),
		"unsatisfied": t.Unsatisfied().String(),
	})
	m.resubmit(t)
}

// Live returns the live trackers of family. The wildcard returns all of
// them.
func (m *Manager) Live(family string) []*tracker.MultiTracker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*tracker.MultiTracker
	if family == model.Wildcard {
		for _, ts := range m.families {
			out = append(out, ts...)
		}
		return out
	}
	return append(out, m.families[family]...)
}

// Len returns the number of live trackers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// CancelAll cancels every live tracker.
func (m *Manager) CancelAll() {
	for _, t := range m.Live(model.Wildcard) {
		t.Cancel()
	}
}

// Wait blocks until every slave-done reconciliation has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
