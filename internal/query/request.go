// Package query builds registry queries from the textual form used on the
// command line and the JSON form used over HTTP, and runs them.
package query

import (
	"context"
	"sync"

	"modelreg/internal/errors"
	"modelreg/internal/model"
	"modelreg/internal/region"
	"modelreg/internal/tracker"
)

// Condition is a scalar constraint on a property.
type Condition struct {
	Property string         `json:"property"`
	Op       model.Operator `json:"op"`
	Value    any            `json:"value"`
}

// Order sorts results by a property.
type Order struct {
	Property   string `json:"property"`
	Descending bool   `json:"descending,omitempty"`
}

// Request is a query in transport form.
type Request struct {
	Category   string      `json:"category"`
	Region     region.Set  `json:"region"`
	Where      []Condition `json:"where,omitempty"`
	Properties []string    `json:"properties,omitempty"`
	Order      []Order     `json:"order,omitempty"`
	StartIndex int         `json:"startIndex,omitempty"`
	// Limit of zero means no limit.
	Limit int `json:"limit,omitempty"`
	// Local answers from the cache only.
	Local bool `json:"local,omitempty"`
}

// Result is what a request returned.
type Result struct {
	IDs []int64 `json:"ids"`
	// Values holds the requested properties by name, then by model id.
	Values map[string]map[int64]any `json:"values,omitempty"`
}

// Collector receives the properties a request asked for.
type Collector struct {
	mu        sync.Mutex
	receivers map[string]*model.CollectingReceiver[any]
}

// Values returns what has been received so far.
func (c *Collector) Values() map[string]map[int64]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.receivers) == 0 {
		return nil
	}
	out := make(map[string]map[int64]any, len(c.receivers))
	for name, rc := range c.receivers {
		out[name] = rc.Values()
	}
	return out
}

func property(name string) model.PropertyDescriptor {
	return model.NewPropertyDescriptor[any](name)
}

// Build converts r to a registry query whose receivers feed the returned
// collector.
func (r Request) Build() (*model.Query, *Collector, error) {
	if r.Category == "" {
		return nil, nil, errors.Newf(errors.InvalidArgument, "category is required")
	}
	if r.StartIndex < 0 || r.Limit < 0 {
		return nil, nil, errors.Newf(errors.InvalidArgument, "invalid page start=%d limit=%d", r.StartIndex, r.Limit)
	}

	col := &Collector{receivers: make(map[string]*model.CollectingReceiver[any])}
	var receivers []model.PropertyValueReceiver
	for _, name := range r.Properties {
		if name == "" {
			return nil, nil, errors.Newf(errors.InvalidArgument, "empty property name")
		}
		if _, dup := col.receivers[name]; dup {
			continue
		}
		rc := model.NewCollectingReceiver[any](name)
		col.receivers[name] = rc
		receivers = append(receivers, rc)
	}

	q := model.NewQuery(model.ParseCategory(r.Category), r.Region, receivers...)
	for _, c := range r.Where {
		if c.Property == "" {
			return nil, nil, errors.Newf(errors.InvalidArgument, "condition without property")
		}
		op := c.Op
		if op == "" {
			op = model.OpEQ
		}
		q.Parameters = append(q.Parameters, model.PropertyMatcher{
			Descriptor: property(c.Property),
			Operator:   op,
			Operand:    c.Value,
		})
	}
	for _, o := range r.Order {
		q.Order = append(q.Order, model.OrderSpecifier{Descriptor: property(o.Property), Descending: o.Descending})
	}
	q.StartIndex = r.StartIndex
	if r.Limit > 0 {
		q.Limit = r.Limit
	}
	return q, col, nil
}

// Registry is the part of the registry a request runs against.
type Registry interface {
	SubmitQuery(ctx context.Context, q *model.Query) (*tracker.MultiTracker, error)
	PerformLocalQuery(ctx context.Context, q *model.Query) []int64
}

// Execute builds and runs r, waiting for the result.
func Execute(ctx context.Context, reg Registry, r Request) (*Result, error) {
	q, col, err := r.Build()
	if err != nil {
		return nil, err
	}

	var ids []int64
	if r.Local {
		ids = reg.PerformLocalQuery(ctx, q)
	} else {
		t, err := reg.SubmitQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		if ids, err = t.Get(ctx); err != nil {
			return nil, err
		}
	}
	if ids == nil {
		ids = []int64{}
	}
	return &Result{IDs: ids, Values: col.Values()}, nil
}
