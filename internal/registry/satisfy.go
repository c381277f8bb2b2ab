package registry

import (
	"context"

	"golang.org/x/sync/errgroup"

	"modelreg/internal/errors"
	"modelreg/internal/model"
	"modelreg/internal/provider"
	"modelreg/internal/region"
	"modelreg/internal/tracker"
)

type runMode int

const (
	// runAsync schedules provider fetches on their pools and returns.
	runAsync runMode = iota
	// runSync fetches on the calling goroutine, one provider after another,
	// and stops at the first provider that returns anything.
	runSync
	// runLocal only reads the cache.
	runLocal
)

type providerRun struct {
	cp  *provider.CachingProvider
	sub *tracker.DefaultTracker
}

// plan is what one satisfaction pass decided to run.
type plan struct {
	cacheSubs    []*tracker.DefaultTracker
	providerSubs []providerRun
}

// satisfy claims the unsatisfied region of t, first from the cache and then
// from providers, and runs the resulting sub-trackers.
func (r *Registry) satisfy(ctx context.Context, t *tracker.MultiTracker, mode runMode) {
	var p plan
	var failure error
	t.WithRunLock(func() {
		p, failure = r.plan(ctx, t, mode)
	})

	if failure != nil {
		_ = t.SetStatus(tracker.Failed, failure)
		t.LogError(r.logger)
		return
	}

	switch mode {
	case runAsync:
		for _, pr := range p.providerSubs {
			_ = pr.cp.Query(ctx, pr.sub, t.IsInterval())
		}
		if len(p.cacheSubs) > 0 {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.runCache(r.ctx, p.cacheSubs)
			}()
		}
	default:
		r.runCache(ctx, p.cacheSubs)
		found := false
		for _, pr := range p.providerSubs {
			if found {
				_ = pr.sub.SetStatus(tracker.Success, nil)
				continue
			}
			pr.cp.Run(ctx, pr.sub, t.IsInterval())
			found = len(pr.sub.IDs()) > 0
		}
	}
}

// plan must be called under the tracker's run lock. A non-nil error means
// the query cannot be answered.
func (r *Registry) plan(ctx context.Context, t *tracker.MultiTracker, mode runMode) (plan, error) {
	var p plan
	if t.IsDone() || t.IsSatisfied() {
		return p, nil
	}
	q := t.Query()

	p.cacheSubs = r.claimFromCache(ctx, t)
	if t.IsSatisfied() {
		return p, nil
	}

	if mode == runLocal {
		// Whatever the cache does not know is answered by nothing.
		if sub := t.CreateSubTracker(true, []model.Satisfaction{model.NewSatisfaction(t.Unsatisfied())}, region.Set{}); sub != nil {
			_ = sub.SetStatus(tracker.Success, nil)
		}
		return p, nil
	}

	if q.IsPaged() {
		return p, errors.Newf(errors.UnsupportedPagination,
			"paged query on %s cannot be answered by providers", q.Category)
	}

	for _, cp := range r.providersFor(q.Category) {
		if t.IsSatisfied() || t.IsDone() {
			break
		}
		sats := cp.Satisfaction(ctx, q.Category, t.Unsatisfied())
		if len(sats) == 0 {
			continue
		}
		if sub := t.CreateSubTracker(false, sats, region.Set{}); sub != nil {
			p.providerSubs = append(p.providerSubs, providerRun{cp: cp, sub: sub})
		}
	}

	if !t.IsSatisfied() && !t.IsDone() {
		return p, errors.Newf(errors.NoProvider, "no provider for %s over %s", q.Category, t.Unsatisfied())
	}
	return p, nil
}

// claimFromCache creates local sub-trackers for what the cache already
// holds. Cache errors are logged and treated as a miss.
func (r *Registry) claimFromCache(ctx context.Context, t *tracker.MultiTracker) []*tracker.DefaultTracker {
	q := t.Query()
	var subs []*tracker.DefaultTracker

	if t.IsInterval() {
		sats, err := r.cache.IntervalSatisfactions(ctx, q.Category, q.Parameters)
		if err != nil {
			r.cacheError(t, "Cache satisfaction lookup failed", err)
			return nil
		}
		if q.IsPaged() && len(sats) > 0 {
			// One read over everything cached, so the page is taken from
			// the whole result and not from each piece.
			if sub := t.CreateSubTracker(true, sats, region.Set{}); sub != nil {
				subs = append(subs, sub)
			}
		} else {
			for _, s := range sats {
				if sub := t.CreateSubTracker(true, []model.Satisfaction{s}, region.Set{}); sub != nil {
					subs = append(subs, sub)
				}
			}
		}
	} else {
		ids, err := r.cache.IDs(ctx, q)
		if err != nil {
			r.cacheError(t, "Cache lookup failed", err)
			return nil
		}
		if len(ids) > 0 {
			sat := model.IDSatisfaction(region.Universe(), ids)
			if sub := t.CreateSubTracker(true, []model.Satisfaction{sat}, region.Set{}); sub != nil {
				subs = append(subs, sub)
			}
		}
	}

	if len(subs) > 0 {
		r.metrics.CacheLookup("hit")
	} else {
		r.metrics.CacheLookup("miss")
	}
	return subs
}

func (r *Registry) cacheError(t *tracker.MultiTracker, msg string, err error) {
	r.metrics.CacheLookup("error")
	r.logger.Error(msg, map[string]interface{}{
		"code":    string(errors.CacheError),
		"tracker": t.ID(),
		"error":   err.Error(),
	})
}

// runCache answers the local sub-trackers, a few at a time.
func (r *Registry) runCache(ctx context.Context, subs []*tracker.DefaultTracker) {
	if len(subs) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cacheWorkers)
	for _, sub := range subs {
		g.Go(func() error {
			return r.runCacheSub(gctx, sub)
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Debug("Cache read aborted", map[string]interface{}{"error": err.Error()})
	}
}

func (r *Registry) runCacheSub(ctx context.Context, sub *tracker.DefaultTracker) error {
	if sub.IsDone() {
		return nil
	}
	q := sub.Query()

	var err error
	ids, known := knownIDs(sub.Satisfactions())
	if !known {
		ids, err = r.cache.IDs(ctx, q)
	}
	if err == nil && len(ids) > 0 {
		err = r.deliver(ctx, q, ids)
	}

	if err != nil {
		if ctx.Err() != nil {
			sub.Cancel()
			return ctx.Err()
		}
		_ = sub.SetStatus(tracker.Failed, errors.New(errors.CacheError, "failed to read cached models", err))
		sub.LogError(r.logger)
		return err
	}
	sub.AddIDs(ids...)
	_ = sub.SetStatus(tracker.Success, nil)
	return nil
}

// knownIDs returns the ids carried by sats when every one of them has ids.
func knownIDs(sats []model.Satisfaction) ([]int64, bool) {
	if len(sats) == 0 {
		return nil, false
	}
	var ids []int64
	for _, s := range sats {
		if !s.HasIDs {
			return nil, false
		}
		ids = append(ids, s.IDs...)
	}
	return ids, true
}

// deliver reads the values the query's receivers want and hands them over.
func (r *Registry) deliver(ctx context.Context, q *model.Query, ids []int64) error {
	descs := q.Descriptors()
	if len(descs) == 0 {
		return nil
	}
	vals, missing, err := r.cache.Values(ctx, ids, descs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		r.logger.Warn("Cached models disappeared during read", map[string]interface{}{
			"category": q.Category.String(),
			"missing":  len(missing),
		})
	}
	for _, rc := range q.Receivers {
		rc.Receive(ids, vals[rc.Descriptor()])
	}
	return nil
}
