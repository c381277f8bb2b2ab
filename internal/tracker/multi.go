package tracker

import (
	"sync"

	"modelreg/internal/model"
	"modelreg/internal/region"
)

// maxSlaveDepth bounds the walk over slave relationships when checking
// for cycles. Chains longer than this are treated as cycles.
const maxSlaveDepth = 64

// MultiTracker tracks a top-level query. It owns the part of the query's
// region that no child has claimed yet, hands regions to cache, provider and
// slave children, and derives its own status from theirs.
//
// regionMu guards unsatisfied and children. It is always taken before a
// child's status lock, never after.
type MultiTracker struct {
	core

	opts       Options
	full       region.Set
	isInterval bool

	regionMu    sync.RWMutex
	unsatisfied region.Set
	children    []*child
	slaveDone   func(*MultiTracker)

	runMu sync.Mutex
}

type child struct {
	t      Tracker
	region region.Set
}

// RegionSnapshot is a consistent view of how a tracker's region is divided.
type RegionSnapshot struct {
	Full        region.Set
	Unsatisfied region.Set
	Claimed     []region.Set
}

// NewMultiTracker creates a running tracker for q with its whole region
// unsatisfied.
func NewMultiTracker(q *model.Query, opts Options) *MultiTracker {
	opts = opts.withDefaults()
	m := &MultiTracker{
		core:        newCore(q, opts),
		opts:        opts,
		full:        q.FullRegion(),
		isInterval:  q.IsIntervalQuery(),
		unsatisfied: q.FullRegion(),
	}
	m.self = m
	return m
}

func (m *MultiTracker) sealed() {}

// IsInterval reports whether the query carries interval constraints.
func (m *MultiTracker) IsInterval() bool { return m.isInterval }

// FullRegion returns the region of the whole query.
func (m *MultiTracker) FullRegion() region.Set { return m.full }

// Satisfactions returns one satisfaction covering the bounds of the whole
// query, regardless of how it has been split.
func (m *MultiTracker) Satisfactions() []model.Satisfaction {
	return []model.Satisfaction{model.NewSatisfaction(m.full.BoundingSet())}
}

// SetSlaveDoneHook installs the function called after a slave has been
// removed and its region returned to the unsatisfied set.
func (m *MultiTracker) SetSlaveDoneHook(fn func(*MultiTracker)) {
	m.regionMu.Lock()
	m.slaveDone = fn
	m.regionMu.Unlock()
}

// WithRunLock runs fn while holding the tracker's run lock, so that
// satisfaction passes over one tracker never interleave.
func (m *MultiTracker) WithRunLock(fn func()) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	fn()
}

// Unsatisfied returns the region no child has claimed.
func (m *MultiTracker) Unsatisfied() region.Set {
	m.regionMu.RLock()
	defer m.regionMu.RUnlock()
	return m.unsatisfied
}

// IsSatisfied reports whether every part of the region has been claimed.
func (m *MultiTracker) IsSatisfied() bool {
	return m.Unsatisfied().IsEmpty()
}

// Children returns the live children in creation order.
func (m *MultiTracker) Children() []Tracker {
	m.regionMu.RLock()
	defer m.regionMu.RUnlock()
	out := make([]Tracker, len(m.children))
	for i, c := range m.children {
		out[i] = c.t
	}
	return out
}

// Regions returns the unsatisfied region and each child's claim.
func (m *MultiTracker) Regions() RegionSnapshot {
	m.regionMu.RLock()
	defer m.regionMu.RUnlock()
	snap := RegionSnapshot{Full: m.full, Unsatisfied: m.unsatisfied}
	for _, c := range m.children {
		snap.Claimed = append(snap.Claimed, c.region)
	}
	return snap
}

// SetStatus sets the status as for any tracker. A FAILED or CANCELLED
// tracker also cancels its running children.
func (m *MultiTracker) SetStatus(status Status, err error) error {
	changed, e := m.transition(status, err)
	if changed && (status == Failed || status == Cancelled) {
		m.cancelChildren()
	}
	return e
}

// Cancel cancels the tracker and every live child. Masters of slave
// children keep running.
func (m *MultiTracker) Cancel() {
	if m.cancel() {
		m.cancelChildren()
	}
}

func (m *MultiTracker) cancelChildren() {
	for _, t := range m.Children() {
		switch c := t.(type) {
		case *DefaultTracker:
			c.Cancel()
		case *MultiTracker:
			c.Cancel()
		case *SlaveTracker:
			c.Cancel()
		}
	}
}

// CreateSubTracker claims the part of sats that is still unsatisfied and
// returns a child responsible for it. It returns nil when none of it is
// unsatisfied any more, which means another pass got there first. When
// override is non-empty the child's query uses it, clipped to the claim,
// as its interval constraints.
func (m *MultiTracker) CreateSubTracker(local bool, sats []model.Satisfaction, override region.Set) *DefaultTracker {
	want := model.Regions(sats)

	m.regionMu.Lock()
	claimed := region.Intersect(m.unsatisfied, want)
	if claimed.IsEmpty() {
		m.regionMu.Unlock()
		return nil
	}
	rest, changed := region.Subtract(m.unsatisfied, claimed)
	if !changed {
		m.regionMu.Unlock()
		return nil
	}

	scoped := make([]model.Satisfaction, 0, len(sats))
	for _, s := range sats {
		r := region.Intersect(s.Region, claimed)
		if r.IsEmpty() {
			continue
		}
		scoped = append(scoped, model.Satisfaction{Region: r, IDs: s.IDs, HasIDs: s.HasIDs})
	}

	q := m.query
	if m.isInterval {
		childRegion := claimed
		if !override.IsEmpty() {
			childRegion = region.Intersect(override, claimed)
		}
		q = q.WithRegion(childRegion)
	}

	t := NewDefaultTracker(q, local, scoped, m.opts)
	t.parent = m
	m.unsatisfied = rest
	m.children = append(m.children, &child{t: t, region: claimed})
	status, err := m.Status(), m.Err()
	m.regionMu.Unlock()

	if status != Running {
		_, _ = t.transition(status, err)
	}
	// The child lives as long as the parent, so the subscription is kept.
	t.AddListener(multiChildListener{m})
	return t
}

// AddSlave reserves the part of r that is still unsatisfied and follows
// target for it. It returns nil, changing nothing, when no part of r is
// unsatisfied or target has already finished. target must not be a slave.
func (m *MultiTracker) AddSlave(target Tracker, r region.Set) *SlaveTracker {
	switch target.(type) {
	case *DefaultTracker, *MultiTracker:
	case *SlaveTracker:
		return nil
	}

	m.regionMu.Lock()
	claimed := region.Intersect(m.unsatisfied, r)
	if claimed.IsEmpty() || target.IsDone() {
		m.regionMu.Unlock()
		return nil
	}
	rest, _ := region.Subtract(m.unsatisfied, claimed)

	q := m.query
	if m.isInterval {
		q = q.WithRegion(claimed)
	}
	s := newSlaveTracker(target, claimed, q, m.opts)
	m.unsatisfied = rest
	m.children = append(m.children, &child{t: s, region: claimed})
	done := m.IsDone()
	m.regionMu.Unlock()

	// Attach outside the lock: a master that finished meanwhile reports
	// synchronously and removes the slave again.
	_ = s.SetListener(multiChildListener{m})
	s.attach()
	if done {
		s.Cancel()
	}
	return s
}

// CheckOverlap slaves the unsatisfied part of this tracker onto other's
// in-flight work where the two queries are compatible. Regions other's live
// children claimed are followed through those children, and the region other
// has not handed out yet is followed through other itself. It reports
// whether any slave was attached.
func (m *MultiTracker) CheckOverlap(other *MultiTracker) bool {
	if other == nil || other == m || other.IsDone() || m.IsDone() {
		return false
	}
	if m.isInterval != other.isInterval {
		return false
	}
	// A page is only taken from one cache read over the whole query.
	if m.query.IsPaged() || other.query.IsPaged() {
		return false
	}
	if !m.query.Category.Matches(other.query.Category) {
		return false
	}
	if model.MatchersKey(m.query.Parameters) != model.MatchersKey(other.query.Parameters) {
		return false
	}
	if m.isInterval && !region.Intersects(m.full.BoundingSet(), other.full.BoundingSet()) {
		return false
	}
	if other.dependsOn(m) {
		return false
	}

	attached := false
	for _, tg := range other.overlapTargets() {
		if m.IsSatisfied() {
			break
		}
		if m.AddSlave(tg.t, tg.region) != nil {
			attached = true
		}
	}
	return attached
}

type overlapTarget struct {
	t      Tracker
	region region.Set
}

func (m *MultiTracker) overlapTargets() []overlapTarget {
	m.regionMu.RLock()
	defer m.regionMu.RUnlock()

	var out []overlapTarget
	for _, c := range m.children {
		switch t := c.t.(type) {
		case *SlaveTracker:
			if !t.IsDone() {
				out = append(out, overlapTarget{t: t.master, region: c.region})
			}
		case *DefaultTracker, *MultiTracker:
			if !t.IsDone() {
				out = append(out, overlapTarget{t: t, region: c.region})
			}
		}
	}
	// Region no child has claimed yet is still this tracker's to fetch,
	// even while its satisfaction pass is under way.
	if !m.unsatisfied.IsEmpty() {
		out = append(out, overlapTarget{t: m, region: m.unsatisfied})
	}
	return out
}

// dependsOn reports whether this tracker follows upstream, directly or
// through a chain of slaves.
func (m *MultiTracker) dependsOn(upstream *MultiTracker) bool {
	visited := make(map[*MultiTracker]bool)
	frontier := []*MultiTracker{m}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxSlaveDepth {
			return true
		}
		var next []*MultiTracker
		for _, x := range frontier {
			if visited[x] {
				continue
			}
			visited[x] = true
			for _, master := range x.slaveMasters() {
				owner := ownerOf(master)
				if owner == nil {
					continue
				}
				if owner == upstream {
					return true
				}
				next = append(next, owner)
			}
		}
		frontier = next
	}
	return false
}

func (m *MultiTracker) slaveMasters() []Tracker {
	m.regionMu.RLock()
	defer m.regionMu.RUnlock()
	var out []Tracker
	for _, c := range m.children {
		if s, ok := c.t.(*SlaveTracker); ok {
			out = append(out, s.master)
		}
	}
	return out
}

// ownerOf returns the top-level tracker responsible for t.
func ownerOf(t Tracker) *MultiTracker {
	switch v := t.(type) {
	case *DefaultTracker:
		return v.parent
	case *MultiTracker:
		return v
	case *SlaveTracker:
		return ownerOf(v.master)
	default:
		return nil
	}
}

func (m *MultiTracker) removeSlave(s *SlaveTracker) {
	m.regionMu.Lock()
	idx := -1
	for i, c := range m.children {
		if c.t == Tracker(s) {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.regionMu.Unlock()
		return
	}
	freed := m.children[idx].region
	m.children = append(m.children[:idx], m.children[idx+1:]...)
	m.unsatisfied = region.Union(m.unsatisfied, freed)
	hook := m.slaveDone
	m.regionMu.Unlock()

	m.updateFraction()
	if hook != nil {
		hook(m)
	}
}

// UpdateStatus derives the tracker's status from its children. Any FAILED
// child fails the tracker, with the first failed child's error; otherwise
// any CANCELLED child cancels it; otherwise it succeeds once every child
// has finished, no slave remains and nothing is unsatisfied. Slaves never
// decide the outcome.
func (m *MultiTracker) UpdateStatus() {
	m.regionMu.RLock()
	var failed Tracker
	cancelled := false
	allDone := true
	for _, c := range m.children {
		switch t := c.t.(type) {
		case *SlaveTracker:
			allDone = false
		case *DefaultTracker, *MultiTracker:
			switch t.Status() {
			case Failed:
				if failed == nil {
					failed = t
				}
			case Cancelled:
				cancelled = true
			case Running:
				allDone = false
			}
		}
	}
	satisfied := m.unsatisfied.IsEmpty()
	var ids []int64
	if failed == nil && !cancelled && allDone && satisfied {
		ids = m.collectIDs()
	}
	m.regionMu.RUnlock()

	switch {
	case failed != nil:
		_ = m.SetStatus(Failed, failed.Err())
	case cancelled:
		_ = m.SetStatus(Cancelled, nil)
	case allDone && satisfied:
		m.succeedWith(ids)
	}
}

// collectIDs must be called with regionMu held. Ids are distinct, in
// first-seen order.
func (m *MultiTracker) collectIDs() []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, c := range m.children {
		if _, ok := c.t.(*SlaveTracker); ok {
			continue
		}
		for _, id := range c.t.IDs() {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if out == nil {
		out = []int64{}
	}
	return out
}

// succeedWith publishes the final ids, then SUCCESS.
func (m *MultiTracker) succeedWith(ids []int64) {
	m.mu.Lock()
	if m.status != Running {
		m.mu.Unlock()
		return
	}
	m.ids = ids
	m.mu.Unlock()
	_ = m.SetStatus(Success, nil)
}

func (m *MultiTracker) updateFraction() {
	m.regionMu.RLock()
	total := 0.0
	n := len(m.children)
	for _, c := range m.children {
		total += c.t.FractionComplete()
	}
	m.regionMu.RUnlock()
	if n == 0 {
		return
	}
	m.setFraction(total / float64(n))
}

type multiChildListener struct {
	m *MultiTracker
}

func (l multiChildListener) StatusChanged(t Tracker, status Status) {
	switch c := t.(type) {
	case *SlaveTracker:
		if status.IsTerminal() {
			l.m.removeSlave(c)
		}
	case *DefaultTracker, *MultiTracker:
		l.m.UpdateStatus()
	}
}

func (l multiChildListener) FractionCompleteChanged(Tracker, float64) {
	l.m.updateFraction()
}
