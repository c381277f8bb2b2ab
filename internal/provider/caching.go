package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"modelreg/internal/cache"
	"modelreg/internal/changes"
	"modelreg/internal/errors"
	"modelreg/internal/jobs"
	"modelreg/internal/logging"
	"modelreg/internal/metrics"
	"modelreg/internal/model"
	"modelreg/internal/region"
	"modelreg/internal/tracker"
)

// Options holds the collaborators of a CachingProvider.
type Options struct {
	Cache   cache.Cache
	Changes *changes.Manager
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	Pool    jobs.PoolConfig
}

// CachingProvider runs an external provider's fetches on a bounded pool and
// stores everything it deposits in the cache.
type CachingProvider struct {
	provider DataProvider
	cache    cache.Cache
	changes  *changes.Manager
	pool     *jobs.Pool
	metrics  *metrics.Metrics
	logger   *logging.Logger

	inflight sync.Map // job id -> *tracker.DefaultTracker
}

// NewCachingProvider wraps p. It starts the pool's workers.
func NewCachingProvider(p DataProvider, opts Options) *CachingProvider {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("provider:" + p.Name())
	if opts.Pool.WorkerCount <= 0 {
		opts.Pool = jobs.DefaultPoolConfig()
	}

	cp := &CachingProvider{
		provider: p,
		cache:    opts.Cache,
		changes:  opts.Changes,
		metrics:  opts.Metrics,
		logger:   logger,
		pool:     jobs.NewPool(p.Name(), logger, opts.Pool),
	}
	cp.pool.OnFinish(func(job *jobs.Job) {
		// A job dropped from the queue never ran its tracker.
		if v, ok := cp.inflight.LoadAndDelete(job.ID); ok && job.Status() != jobs.JobCompleted {
			v.(*tracker.DefaultTracker).Cancel()
		}
		cp.metrics.SetProviderSaturation(p.Name(), cp.pool.Saturation())
	})
	return cp
}

// Name returns the wrapped provider's name.
func (cp *CachingProvider) Name() string { return cp.provider.Name() }

// Provider returns the wrapped provider.
func (cp *CachingProvider) Provider() DataProvider { return cp.provider }

// ProvidesDataFor reports whether the provider serves category.
func (cp *CachingProvider) ProvidesDataFor(category model.Category) bool {
	return cp.provider.ProvidesDataFor(category)
}

// Satisfaction asks the provider what it can answer of unsatisfied. A
// provider that fails or panics offers nothing.
func (cp *CachingProvider) Satisfaction(ctx context.Context, category model.Category, unsatisfied region.Set) (sats []model.Satisfaction) {
	defer func() {
		if r := recover(); r != nil {
			cp.logger.Error("Provider satisfaction check panicked", map[string]interface{}{
				"category": category.String(),
				"panic":    fmt.Sprintf("%v", r),
			})
			sats = nil
		}
	}()

	sats, err := cp.provider.Satisfaction(ctx, category, unsatisfied)
	if err != nil {
		cp.logger.Warn("Provider satisfaction check failed", map[string]interface{}{
			"category": category.String(),
			"error":    err.Error(),
		})
		return nil
	}
	return sats
}

// Saturation returns the fraction of the pool's workers that are busy.
func (cp *CachingProvider) Saturation() float64 {
	return cp.pool.Saturation()
}

// Query schedules the fetch for t on the pool. If it cannot be scheduled
// the tracker is cancelled.
func (cp *CachingProvider) Query(ctx context.Context, t *tracker.DefaultTracker, isInterval bool) error {
	job := jobs.NewJob("fetch "+t.Query().Category.String(), func(jobCtx context.Context) error {
		cp.Run(jobCtx, t, isInterval)
		return nil
	})
	cp.inflight.Store(job.ID, t)
	if err := cp.pool.Submit(ctx, job); err != nil {
		cp.inflight.Delete(job.ID)
		cp.logger.Warn("Failed to schedule fetch", map[string]interface{}{
			"tracker": t.ID(),
			"error":   err.Error(),
		})
		t.Cancel()
		return err
	}
	cp.metrics.SetProviderSaturation(cp.Name(), cp.pool.Saturation())
	return nil
}

// Run performs the fetch for t on the calling goroutine and leaves t in a
// terminal state.
func (cp *CachingProvider) Run(ctx context.Context, t *tracker.DefaultTracker, isInterval bool) {
	if t.IsDone() {
		return
	}
	start := time.Now()

	var fetchErr error
	t.Wrap(func(ctx context.Context) {
		fetchErr = cp.fetch(ctx, t, isInterval)
	})(ctx)

	outcome := "success"
	switch {
	case fetchErr == nil && t.Status() == tracker.Running:
		q := t.Query()
		if isInterval {
			// Recorded before SUCCESS so that a follower resubmitted on
			// completion finds the region cached.
			if err := cp.cache.RecordSatisfaction(ctx, q.Category, q.Parameters, model.Regions(t.Satisfactions())); err != nil {
				cp.logger.Error("Failed to record satisfaction", map[string]interface{}{
					"code":    string(errors.CacheError),
					"tracker": t.ID(),
					"error":   err.Error(),
				})
			}
		}
		_ = t.SetStatus(tracker.Success, nil)
	case fetchErr == nil || interrupted(fetchErr):
		// Cancelled while fetching. A real provider error below still
		// fails the tracker, since FAILED overrides CANCELLED.
		outcome = "cancelled"
		t.Cancel()
	default:
		outcome = "failed"
		_ = t.SetStatus(tracker.Failed, errors.New(errors.QueryFailed,
			fmt.Sprintf("provider %s failed", cp.Name()), fetchErr))
		t.LogError(cp.logger)
	}

	cp.metrics.ProviderFetch(cp.Name(), outcome, time.Since(start).Seconds())
	cp.logger.Debug("Fetch finished", map[string]interface{}{
		"tracker":  t.ID(),
		"outcome":  outcome,
		"ids":      len(t.IDs()),
		"duration": time.Since(start).String(),
	})
}

func interrupted(err error) bool {
	return errors.HasCode(err, errors.Interrupted) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

func (cp *CachingProvider) fetch(ctx context.Context, t *tracker.DefaultTracker, isInterval bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", cp.Name(), r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return errors.New(errors.Interrupted, "cancelled before fetch", err)
	}

	q := t.Query()
	req := Request{
		Category:      q.Category,
		Satisfactions: t.Satisfactions(),
		Parameters:    q.Parameters,
		Order:         q.Order,
		Limit:         q.Limit,
		Descriptors:   q.Descriptors(),
	}
	return cp.provider.Query(ctx, req, func(d model.Deposit) error {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.Interrupted, "deposit after cancellation", err)
		}
		return cp.deposit(ctx, t, isInterval, d)
	})
}

// deposit stores d, publishes the change and hands the part answering the
// tracker's query to it and its receivers.
func (cp *CachingProvider) deposit(ctx context.Context, t *tracker.DefaultTracker, isInterval bool, d model.Deposit) error {
	q := t.Query()
	if d.Category == (model.Category{}) {
		d.Category = q.Category
	}
	if d.Source == "" {
		d.Source = cp.Name()
	}

	var added, updated []int64
	ids, err := cp.cache.Put(ctx, d, func(a, u []int64) {
		added, updated = a, u
	})
	if err != nil {
		return errors.New(errors.CacheError, "failed to store deposit", err)
	}
	byID := make(map[int64]model.DepositItem, len(ids))
	for i, id := range ids {
		byID[id] = d.Items[i]
	}
	cp.publish(d, changes.Added, added, byID)
	cp.publish(d, changes.Updated, updated, byID)

	var hits []int64
	var hitItems []model.DepositItem
	seen := make(map[int64]struct{}, len(ids))
	for i, it := range d.Items {
		if _, dup := seen[ids[i]]; dup {
			continue
		}
		if !q.Category.Matches(d.Category) || !model.MatchAll(q.Parameters, it.Values) {
			continue
		}
		if isInterval && !it.Within(q.Region) {
			continue
		}
		seen[ids[i]] = struct{}{}
		hits = append(hits, ids[i])
		hitItems = append(hitItems, it)
	}
	if len(hits) == 0 {
		return nil
	}
	t.AddIDs(hits...)
	cp.forward(ctx, q, hits, hitItems)
	return nil
}

// forward delivers property values of ids to the query's receivers. Values
// are read back from the cache so that merged models are complete; the
// deposit's own values are used if the cache cannot deliver them.
func (cp *CachingProvider) forward(ctx context.Context, q *model.Query, ids []int64, items []model.DepositItem) {
	if len(q.Receivers) == 0 {
		return
	}
	descs := q.Descriptors()
	vals, _, err := cp.cache.Values(ctx, ids, descs)
	if err != nil {
		cp.logger.Warn("Failed to read back deposited values", map[string]interface{}{
			"code":  string(errors.CacheError),
			"error": err.Error(),
		})
		vals = make(map[model.PropertyDescriptor][]any, len(descs))
		for _, desc := range descs {
			col := make([]any, len(items))
			for i, it := range items {
				col[i] = it.Values[desc.Name]
			}
			vals[desc] = col
		}
	}
	for _, r := range q.Receivers {
		r.Receive(ids, vals[r.Descriptor()])
	}
}

func (cp *CachingProvider) publish(d model.Deposit, kind changes.ChangeType, ids []int64, byID map[int64]model.DepositItem) {
	if cp.changes == nil || len(ids) == 0 {
		return
	}
	values := make(map[string][]any)
	for i, id := range ids {
		for name, v := range byID[id].Values {
			col, ok := values[name]
			if !ok {
				col = make([]any, len(ids))
				values[name] = col
			}
			col[i] = v
		}
	}
	cp.changes.Publish(changes.Event{
		Category: d.Category,
		IDs:      ids,
		Values:   values,
		Type:     kind,
		Source:   d.Source,
	})
}

// Close stops the pool, waiting up to timeout for running fetches.
func (cp *CachingProvider) Close(timeout time.Duration) error {
	return cp.pool.Stop(timeout)
}
