package cache

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"modelreg/internal/model"
	"modelreg/internal/region"
)

// MemoryCache keeps models in ordered in-memory maps.
type MemoryCache struct {
	mu sync.RWMutex

	byID  *btree.Map[int64, *record]
	byKey *btree.Map[string, int64]
	sats  []satisfactionRecord
	next  int64
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		byID:  btree.NewMap[int64, *record](0),
		byKey: btree.NewMap[string, int64](0),
		next:  1,
	}
}

// IntervalSatisfactions implements Cache.
func (c *MemoryCache) IntervalSatisfactions(ctx context.Context, category model.Category, matchers []model.PropertyMatcher) ([]model.Satisfaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := model.MatchersKey(matchers)

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Satisfaction
	for _, s := range c.sats {
		if s.covers(category, key) {
			out = append(out, model.NewSatisfaction(s.Region))
		}
	}
	return out, nil
}

// IDs implements Cache.
func (c *MemoryCache) IDs(ctx context.Context, q *model.Query) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var recs []*record
	c.byID.Scan(func(_ int64, r *record) bool {
		if r.answers(q) {
			recs = append(recs, r)
		}
		return true
	})
	return selectIDs(recs, q), nil
}

// Values implements Cache.
func (c *MemoryCache) Values(ctx context.Context, ids []int64, descs []model.PropertyDescriptor) (map[model.PropertyDescriptor][]any, []int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	out := make(map[model.PropertyDescriptor][]any, len(descs))
	for _, d := range descs {
		out[d] = make([]any, len(ids))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var failed []int
	for i, id := range ids {
		r, ok := c.byID.Get(id)
		if !ok {
			failed = append(failed, i)
			continue
		}
		for _, d := range descs {
			if v, ok := coerce(r.Values[d.Name], d.Type); ok {
				out[d][i] = v
			}
		}
	}
	return out, failed, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(ctx context.Context, d model.Deposit, onModified ModifiedFunc) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(d.Items))
	var added, updated []int64

	c.mu.Lock()
	for i, it := range d.Items {
		if it.Key != "" {
			if id, ok := c.byKey.Get(categoryKey(d.Category, it.Key)); ok {
				r, _ := c.byID.Get(id)
				r.merge(it)
				ids[i] = id
				updated = append(updated, id)
				continue
			}
		}
		r := &record{ID: c.next, Category: d.Category, Key: it.Key}
		c.next++
		r.merge(it)
		c.byID.Set(r.ID, r)
		if it.Key != "" {
			c.byKey.Set(categoryKey(d.Category, it.Key), r.ID)
		}
		ids[i] = r.ID
		added = append(added, r.ID)
	}
	c.mu.Unlock()

	if onModified != nil && (len(added) > 0 || len(updated) > 0) {
		onModified(added, updated)
	}
	return ids, nil
}

// RecordSatisfaction implements Cache.
func (c *MemoryCache) RecordSatisfaction(ctx context.Context, category model.Category, matchers []model.PropertyMatcher, r region.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.IsEmpty() {
		return nil
	}
	c.mu.Lock()
	c.sats = append(c.sats, satisfactionRecord{
		Category:    category,
		MatchersKey: model.MatchersKey(matchers),
		Region:      r,
	})
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(ctx context.Context, category model.Category) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []*record
	c.byID.Scan(func(_ int64, r *record) bool {
		if category.Matches(r.Category) {
			removed = append(removed, r)
		}
		return true
	})
	ids := make([]int64, 0, len(removed))
	for _, r := range removed {
		c.byID.Delete(r.ID)
		if r.Key != "" {
			c.byKey.Delete(categoryKey(r.Category, r.Key))
		}
		ids = append(ids, r.ID)
	}

	kept := c.sats[:0]
	for _, s := range c.sats {
		if !category.Matches(s.Category) {
			kept = append(kept, s)
		}
	}
	c.sats = kept
	return ids, nil
}

// Stats implements Cache.
func (c *MemoryCache) Stats(context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Backend: "memory", Models: c.byID.Len(), Satisfactions: len(c.sats)}, nil
}

// Close drops everything.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID.Clear()
	c.byKey.Clear()
	c.sats = nil
	return nil
}
