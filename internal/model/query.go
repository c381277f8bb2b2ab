package model

import (
	"math"

	"modelreg/internal/region"
)

// Unlimited is the Limit of a query that returns every match.
const Unlimited = math.MaxInt

// Satisfaction claims that a region of a query is, or will be, answered.
// When HasIDs is set the source already knows the exact result ids.
type Satisfaction struct {
	Region region.Set
	IDs    []int64
	HasIDs bool
}

// NewSatisfaction returns a region-only satisfaction.
func NewSatisfaction(r region.Set) Satisfaction {
	return Satisfaction{Region: r}
}

// IDSatisfaction returns a satisfaction that carries its result ids.
func IDSatisfaction(r region.Set, ids []int64) Satisfaction {
	cp := make([]int64, len(ids))
	copy(cp, ids)
	return Satisfaction{Region: r, IDs: cp, HasIDs: true}
}

// Regions returns the union of the satisfactions' regions.
func Regions(sats []Satisfaction) region.Set {
	sets := make([]region.Set, len(sats))
	for i, s := range sats {
		sets[i] = s.Region
	}
	return region.Union(sets...)
}

// Query describes what a caller wants from the registry. A Query is not
// modified once submitted.
type Query struct {
	Category   Category
	Parameters []PropertyMatcher
	// Region holds the interval constraints. A query with an empty region is
	// a scalar query.
	Region     region.Set
	Order      []OrderSpecifier
	StartIndex int
	Limit      int
	BatchSize  int
	Receivers  []PropertyValueReceiver
}

// NewQuery returns an unpaged query.
func NewQuery(category Category, r region.Set, receivers ...PropertyValueReceiver) *Query {
	return &Query{
		Category:  category,
		Region:    r,
		Limit:     Unlimited,
		Receivers: receivers,
	}
}

// IsIntervalQuery reports whether the query carries interval constraints.
func (q *Query) IsIntervalQuery() bool {
	return !q.Region.IsEmpty()
}

// IsPaged reports whether the query asks for an offset or a limit.
func (q *Query) IsPaged() bool {
	return q.StartIndex != 0 || q.Limit != Unlimited
}

// FullRegion is the region the query is responsible for: its interval
// constraints, or the universe for a scalar query.
func (q *Query) FullRegion() region.Set {
	if q.IsIntervalQuery() {
		return q.Region
	}
	return region.Universe()
}

// Descriptors returns the distinct property descriptors requested by the
// receivers, in receiver order.
func (q *Query) Descriptors() []PropertyDescriptor {
	seen := make(map[PropertyDescriptor]struct{}, len(q.Receivers))
	out := make([]PropertyDescriptor, 0, len(q.Receivers))
	for _, r := range q.Receivers {
		d := r.Descriptor()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// WithRegion returns a copy of the query restricted to r. Slices are shared.
func (q *Query) WithRegion(r region.Set) *Query {
	cp := *q
	cp.Region = r
	return &cp
}

// WithParameters returns a copy of the query with different matchers.
func (q *Query) WithParameters(ms []PropertyMatcher) *Query {
	cp := *q
	cp.Parameters = ms
	return &cp
}
