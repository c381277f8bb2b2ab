package tracker

import (
	"modelreg/internal/model"
)

// DefaultTracker tracks one fragment of a query answered by a single source,
// either the cache (local) or a provider.
type DefaultTracker struct {
	core

	local  bool
	sats   []model.Satisfaction
	parent *MultiTracker
}

// NewDefaultTracker creates a running tracker responsible for sats.
func NewDefaultTracker(q *model.Query, local bool, sats []model.Satisfaction, opts Options) *DefaultTracker {
	t := &DefaultTracker{
		core:  newCore(q, opts),
		local: local,
		sats:  sats,
	}
	t.self = t
	return t
}

func (t *DefaultTracker) sealed() {}

// Local reports whether the cache answers this tracker.
func (t *DefaultTracker) Local() bool { return t.local }

// Parent returns the multi tracker that created this tracker, if any.
func (t *DefaultTracker) Parent() *MultiTracker { return t.parent }

// Satisfactions returns the regions this tracker is responsible for.
func (t *DefaultTracker) Satisfactions() []model.Satisfaction {
	out := make([]model.Satisfaction, len(t.sats))
	copy(out, t.sats)
	return out
}

// Cancel cancels the tracker if it is still running.
func (t *DefaultTracker) Cancel() {
	t.cancel()
}

// SetFractionComplete reports progress while running.
func (t *DefaultTracker) SetFractionComplete(f float64) {
	t.setFraction(f)
}
