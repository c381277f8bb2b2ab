// Package registry answers region-bounded model queries from the cache and
// from pluggable providers, fetching only what the cache lacks and never
// fetching the same region twice for overlapping in-flight queries.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"modelreg/internal/cache"
	"modelreg/internal/changes"
	"modelreg/internal/errors"
	"modelreg/internal/jobs"
	"modelreg/internal/logging"
	"modelreg/internal/metrics"
	"modelreg/internal/model"
	"modelreg/internal/provider"
	"modelreg/internal/querymgr"
	"modelreg/internal/tracker"
)

// DefaultCloseTimeout bounds how long Close waits for running fetches when
// its context has no deadline.
const DefaultCloseTimeout = 5 * time.Second

// Options configures a Registry.
type Options struct {
	// Cache is required. The registry closes it on Close.
	Cache   cache.Cache
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// Pool sizes each provider's worker pool.
	Pool jobs.PoolConfig
	// CacheWorkers bounds concurrent cache reads of one query.
	CacheWorkers int
}

// Registry is the entry point for queries.
type Registry struct {
	logger       *logging.Logger
	cache        cache.Cache
	metrics      *metrics.Metrics
	notify       *jobs.SerialQueue
	changes      *changes.Manager
	manager      *querymgr.Manager
	trackerOpts  tracker.Options
	poolConfig   jobs.PoolConfig
	cacheWorkers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	providers []*provider.CachingProvider
	closed    bool
}

// New creates a registry with no providers.
func New(opts Options) (*Registry, error) {
	if opts.Cache == nil {
		return nil, errors.Newf(errors.InvalidArgument, "registry needs a cache")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Pool.WorkerCount <= 0 {
		opts.Pool = jobs.DefaultPoolConfig()
	}
	if opts.CacheWorkers <= 0 {
		opts.CacheWorkers = 4
	}

	notify := jobs.NewSerialQueue(logger.Named("notify"))
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		logger:       logger,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		notify:       notify,
		changes:      changes.NewManager(notify, logger.Named("changes")),
		trackerOpts:  tracker.Options{Queue: notify, Logger: logger.Named("tracker")},
		poolConfig:   opts.Pool,
		cacheWorkers: opts.CacheWorkers,
		ctx:          ctx,
		cancel:       cancel,
	}
	r.manager = querymgr.NewManager(logger.Named("querymgr"), querymgr.Config{
		Tracker:  r.trackerOpts,
		Metrics:  opts.Metrics,
		Resubmit: r.resubmit,
	})
	return r, nil
}

func validate(q *model.Query) error {
	if q == nil {
		return errors.Newf(errors.InvalidArgument, "query is nil")
	}
	if q.StartIndex < 0 || q.Limit < 0 {
		return errors.Newf(errors.InvalidArgument, "invalid page start=%d limit=%d", q.StartIndex, q.Limit)
	}
	return nil
}

// SubmitQuery starts answering q and returns its tracker straight away.
// Provider fetches run in parallel on the providers' pools.
func (r *Registry) SubmitQuery(ctx context.Context, q *model.Query) (*tracker.MultiTracker, error) {
	if err := r.admit(q); err != nil {
		return nil, err
	}
	t := r.manager.Submit(q)
	if !t.IsSatisfied() {
		r.satisfy(ctx, t, runAsync)
	}
	return t, nil
}

// PerformQuery answers q and waits for the result. Providers are tried one
// after the other and the first that returns anything wins. Failures are
// logged and yield no ids.
func (r *Registry) PerformQuery(ctx context.Context, q *model.Query) []int64 {
	if err := r.admit(q); err != nil {
		r.logger.Error("Query rejected", map[string]interface{}{"error": err.Error()})
		return []int64{}
	}
	t := r.manager.Submit(q)
	if !t.IsSatisfied() {
		r.satisfy(ctx, t, runSync)
	}
	return r.wait(ctx, t)
}

// PerformLocalQuery answers q from the cache only.
func (r *Registry) PerformLocalQuery(ctx context.Context, q *model.Query) []int64 {
	if err := r.admit(q); err != nil {
		r.logger.Error("Query rejected", map[string]interface{}{"error": err.Error()})
		return []int64{}
	}
	// Not registered: a cache-only query must not wait on other queries'
	// fetches.
	t := tracker.NewMultiTracker(q, r.trackerOpts)
	r.satisfy(ctx, t, runLocal)
	return r.wait(ctx, t)
}

func (r *Registry) admit(q *model.Query) error {
	if err := validate(q); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.Newf(errors.Cancelled, "registry is closed")
	}
	return nil
}

func (r *Registry) wait(ctx context.Context, t *tracker.MultiTracker) []int64 {
	ids, err := t.Get(ctx)
	if err != nil {
		if errors.CodeOf(err) == errors.Cancelled {
			r.logger.Debug("Query cancelled", map[string]interface{}{"tracker": t.ID()})
		} else {
			t.LogError(r.logger)
		}
		return []int64{}
	}
	return ids
}

// resubmit reruns the satisfaction pass for region a finished slave handed
// back.
func (r *Registry) resubmit(t *tracker.MultiTracker) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		t.Cancel()
		return
	}
	r.satisfy(r.ctx, t, runAsync)
}

// AddProvider registers p behind a caching adapter with its own pool.
func (r *Registry) AddProvider(p provider.DataProvider) (*provider.CachingProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Newf(errors.Cancelled, "registry is closed")
	}
	for _, cp := range r.providers {
		if cp.Name() == p.Name() {
			return nil, errors.Newf(errors.InvalidArgument, "provider %s already registered", p.Name())
		}
	}
	cp := provider.NewCachingProvider(p, provider.Options{
		Cache:   r.cache,
		Changes: r.changes,
		Metrics: r.metrics,
		Logger:  r.logger,
		Pool:    r.poolConfig,
	})
	r.providers = append(r.providers, cp)
	r.logger.Info("Provider registered", map[string]interface{}{"provider": p.Name()})
	return cp, nil
}

// RemoveProvider unregisters the named provider and stops its pool,
// cancelling its running fetches.
func (r *Registry) RemoveProvider(name string) error {
	r.mu.Lock()
	var removed *provider.CachingProvider
	for i, cp := range r.providers {
		if cp.Name() == name {
			removed = cp
			r.providers = append(r.providers[:i:i], r.providers[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if removed == nil {
		return errors.Newf(errors.InvalidArgument, "provider %s is not registered", name)
	}
	return removed.Close(DefaultCloseTimeout)
}

// Providers returns the names of the registered providers.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.providers))
	for i, cp := range r.providers {
		out[i] = cp.Name()
	}
	return out
}

// providersFor returns the providers serving category, least saturated
// first.
func (r *Registry) providersFor(category model.Category) []*provider.CachingProvider {
	r.mu.RLock()
	var out []*provider.CachingProvider
	for _, cp := range r.providers {
		if cp.ProvidesDataFor(category) {
			out = append(out, cp)
		}
	}
	r.mu.RUnlock()

	sat := make(map[*provider.CachingProvider]float64, len(out))
	for _, cp := range out {
		sat[cp] = cp.Saturation()
	}
	sort.SliceStable(out, func(i, j int) bool { return sat[out[i]] < sat[out[j]] })
	return out
}

// AddChangeListener registers l for changes to models of category.
func (r *Registry) AddChangeListener(category model.Category, l changes.Listener) *changes.Subscription {
	return r.changes.Add(category, l)
}

// ClearCache removes cached models of category and tells listeners.
func (r *Registry) ClearCache(ctx context.Context, category model.Category) error {
	ids, err := r.cache.Clear(ctx, category)
	if err != nil {
		return errors.New(errors.CacheError, "failed to clear cache", err)
	}
	r.changes.Publish(changes.Event{Category: category, IDs: ids, Type: changes.Removed, Source: "cache"})
	r.logger.Info("Cache cleared", map[string]interface{}{
		"category": category.String(),
		"removed":  len(ids),
	})
	return nil
}

// ProviderStats describes one registered provider.
type ProviderStats struct {
	Name       string  `json:"name"`
	Saturation float64 `json:"saturation"`
}

// Stats is a snapshot of the registry.
type Stats struct {
	LiveQueries int             `json:"liveQueries"`
	Providers   []ProviderStats `json:"providers"`
	Cache       cache.Stats     `json:"cache"`
}

// Stats returns a snapshot of the registry.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	s := Stats{LiveQueries: r.manager.Len()}
	r.mu.RLock()
	for _, cp := range r.providers {
		s.Providers = append(s.Providers, ProviderStats{Name: cp.Name(), Saturation: cp.Saturation()})
	}
	r.mu.RUnlock()

	cs, err := r.cache.Stats(ctx)
	if err != nil {
		return s, errors.New(errors.CacheError, "failed to read cache stats", err)
	}
	s.Cache = cs
	return s, nil
}

// Close cancels live queries, stops the providers and waits for background
// work, then closes the cache.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	providers := r.providers
	r.providers = nil
	r.mu.Unlock()

	r.manager.CancelAll()
	r.cancel()

	timeout := DefaultCloseTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	var firstErr error
	for _, cp := range providers {
		if err := cp.Close(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		r.manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = fmt.Errorf("registry close: %w", ctx.Err())
		}
	}

	if err := r.notify.Flush(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	r.notify.Close()

	if err := r.cache.Close(); err != nil && firstErr == nil {
		firstErr = errors.New(errors.CacheError, "failed to close cache", err)
	}
	r.logger.Info("Registry closed", nil)
	return firstErr
}
