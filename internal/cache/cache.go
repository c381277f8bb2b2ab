// Package cache stores models deposited by providers, together with the
// regions known to be fully cached, and answers queries from them.
package cache

import (
	"context"
	"reflect"
	"sort"

	"modelreg/internal/model"
	"modelreg/internal/region"
)

// ModifiedFunc is told which ids a Put added and which it merged into.
type ModifiedFunc func(added, updated []int64)

// Stats summarizes a cache's content.
type Stats struct {
	Backend       string `json:"backend"`
	Models        int    `json:"models"`
	Satisfactions int    `json:"satisfactions"`
	Path          string `json:"path,omitempty"`
}

// Cache is the local store the registry consults before any provider.
// Implementations are safe for concurrent use.
type Cache interface {
	// IntervalSatisfactions returns the regions of category already cached
	// for queries with the given matchers.
	IntervalSatisfactions(ctx context.Context, category model.Category, matchers []model.PropertyMatcher) ([]model.Satisfaction, error)

	// IDs returns the ids of cached models answering q, ordered and paged
	// as q asks.
	IDs(ctx context.Context, q *model.Query) ([]int64, error)

	// Values returns, per descriptor, one value for each id. Indices of ids
	// that are not cached are returned in failed; their values are nil.
	Values(ctx context.Context, ids []int64, descs []model.PropertyDescriptor) (map[model.PropertyDescriptor][]any, []int, error)

	// Put stores the deposit's items, merging items with a known key into
	// the existing model. It returns one id per item.
	Put(ctx context.Context, d model.Deposit, onModified ModifiedFunc) ([]int64, error)

	// RecordSatisfaction marks r as fully cached for category and matchers.
	RecordSatisfaction(ctx context.Context, category model.Category, matchers []model.PropertyMatcher, r region.Set) error

	// Clear removes the models and satisfactions of every category matching
	// category, and returns the removed ids.
	Clear(ctx context.Context, category model.Category) ([]int64, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// record is the backend-independent view of a cached model.
type record struct {
	ID       int64
	Category model.Category
	Key      string
	Extent   region.Box
	Values   map[string]any
}

func (r *record) item() model.DepositItem {
	return model.DepositItem{Key: r.Key, Extent: r.Extent, Values: r.Values}
}

// answers reports whether the record belongs in the result of q.
func (r *record) answers(q *model.Query) bool {
	if !q.Category.Matches(r.Category) {
		return false
	}
	if !model.MatchAll(q.Parameters, r.Values) {
		return false
	}
	if q.IsIntervalQuery() && !r.item().Within(q.Region) {
		return false
	}
	return true
}

// merge folds newer values into r. Values absent from the newer item are
// kept.
func (r *record) merge(it model.DepositItem) {
	if r.Values == nil {
		r.Values = make(map[string]any, len(it.Values))
	}
	for k, v := range it.Values {
		r.Values[k] = v
	}
	if len(it.Extent) > 0 {
		r.Extent = it.Extent.Clone()
	}
}

type satisfactionRecord struct {
	Category    model.Category
	MatchersKey string
	Region      region.Set
}

// covers reports whether a satisfaction recorded for s answers a query for
// category with the given matchers key. A recorded wildcard covers every
// value of that field; a recorded satisfaction without matchers covers
// every matcher set.
func (s satisfactionRecord) covers(category model.Category, matchersKey string) bool {
	if !fieldCovers(s.Category.Source, category.Source) ||
		!fieldCovers(s.Category.Family, category.Family) ||
		!fieldCovers(s.Category.Category, category.Category) {
		return false
	}
	return s.MatchersKey == "" || s.MatchersKey == matchersKey
}

func fieldCovers(recorded, queried string) bool {
	return recorded == model.Wildcard || recorded == queried
}

// selectIDs orders the matching records and applies the query's page.
func selectIDs(recs []*record, q *model.Query) []int64 {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, o := range q.Order {
			c, ok := model.Compare(recs[i].Values[o.Descriptor.Name], recs[j].Values[o.Descriptor.Name])
			if !ok || c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return recs[i].ID < recs[j].ID
	})

	start := q.StartIndex
	if start < 0 {
		start = 0
	}
	if start >= len(recs) {
		return []int64{}
	}
	end := len(recs)
	if q.Limit >= 0 && q.Limit < end-start {
		end = start + q.Limit
	}

	ids := make([]int64, 0, end-start)
	for _, r := range recs[start:end] {
		ids = append(ids, r.ID)
	}
	return ids
}

// coerce converts v to t where Go allows it, so that an int deposited for
// a float64 property is still delivered.
func coerce(v any, t reflect.Type) (any, bool) {
	if v == nil || t == nil {
		return v, v != nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v, true
	}
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out.Interface(), true
	}
	if isNumber(rv.Kind()) && isNumber(t.Kind()) {
		return rv.Convert(t).Interface(), true
	}
	return nil, false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func categoryKey(c model.Category, key string) string {
	return c.Source + "\x00" + c.Family + "\x00" + c.Category + "\x00" + key
}
