package model

import (
	"sync"

	"modelreg/internal/region"
)

// PropertyValueReceiver accepts property values for result ids. values[i]
// belongs to ids[i]. Receive may be called concurrently by several fetches.
type PropertyValueReceiver interface {
	Descriptor() PropertyDescriptor
	Receive(ids []int64, values []any)
}

// CollectingReceiver keeps every value of type T it receives.
type CollectingReceiver[T any] struct {
	desc PropertyDescriptor

	mu     sync.Mutex
	values map[int64]T
}

// NewCollectingReceiver returns a receiver for the named property.
func NewCollectingReceiver[T any](name string) *CollectingReceiver[T] {
	return &CollectingReceiver[T]{
		desc:   NewPropertyDescriptor[T](name),
		values: make(map[int64]T),
	}
}

// Descriptor implements PropertyValueReceiver.
func (r *CollectingReceiver[T]) Descriptor() PropertyDescriptor {
	return r.desc
}

// Receive implements PropertyValueReceiver. Values of the wrong type are
// dropped.
func (r *CollectingReceiver[T]) Receive(ids []int64, values []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range ids {
		if i >= len(values) {
			break
		}
		if v, ok := values[i].(T); ok {
			r.values[id] = v
		}
	}
}

// Values returns a copy of the collected values.
func (r *CollectingReceiver[T]) Values() map[int64]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]T, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Len returns how many ids have a value.
func (r *CollectingReceiver[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// DepositItem is one model handed back by a provider. Key identifies the
// model within its category; the cache assigns the id.
type DepositItem struct {
	Key    string         `json:"key" toml:"key"`
	Extent region.Box     `json:"extent,omitempty" toml:"-"`
	Values map[string]any `json:"values,omitempty" toml:"values"`
}

// Within reports whether the item falls inside r. A degenerate extent
// (Min == Max) is a point; an item without extent is everywhere.
func (it DepositItem) Within(r region.Set) bool {
	if len(it.Extent) == 0 {
		return !r.IsEmpty()
	}
	if it.Extent.IsEmpty() {
		p := make(map[string]float64, len(it.Extent))
		for dim, iv := range it.Extent {
			p[dim] = iv.Min
		}
		return r.Contains(p)
	}
	return region.Intersects(region.NewSet(it.Extent), r)
}

// Deposit is a batch of models from one source.
type Deposit struct {
	Source   string
	Category Category
	Items    []DepositItem
}
