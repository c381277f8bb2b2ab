// Package region implements the interval constraint sets used to describe
// which part of a query has or has not been answered.
package region

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeDimension is the dimension name used by TimeSpan.
const TimeDimension = "time"

// Interval is a half-open range [Min, Max).
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Unbounded returns the interval covering the whole real line.
func Unbounded() Interval {
	return Interval{Min: math.Inf(-1), Max: math.Inf(1)}
}

// IsEmpty reports whether the interval contains no point.
func (i Interval) IsEmpty() bool {
	return !(i.Min < i.Max)
}

// Intersect returns the overlap of two intervals, possibly empty.
func (i Interval) Intersect(o Interval) Interval {
	return Interval{Min: math.Max(i.Min, o.Min), Max: math.Min(i.Max, o.Max)}
}

// Contains reports whether v lies in [Min, Max).
func (i Interval) Contains(v float64) bool {
	return v >= i.Min && v < i.Max
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s,%s)", formatBound(i.Min), formatBound(i.Max))
}

// MarshalJSON encodes infinite bounds as null so the value round-trips.
func (i Interval) MarshalJSON() ([]byte, error) {
	type bounds struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	var b bounds
	if !math.IsInf(i.Min, 0) {
		b.Min = &i.Min
	}
	if !math.IsInf(i.Max, 0) {
		b.Max = &i.Max
	}
	return json.Marshal(b)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (i *Interval) UnmarshalJSON(data []byte) error {
	var b struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*i = Unbounded()
	if b.Min != nil {
		i.Min = *b.Min
	}
	if b.Max != nil {
		i.Max = *b.Max
	}
	return nil
}

// Box is a product of intervals keyed by dimension name. A dimension that
// is absent is unbounded, so the empty box is the universe.
type Box map[string]Interval

// Get returns the interval for a dimension, unbounded when absent.
func (b Box) Get(dim string) Interval {
	if iv, ok := b[dim]; ok {
		return iv
	}
	return Unbounded()
}

// IsEmpty reports whether any dimension is empty.
func (b Box) IsEmpty() bool {
	for _, iv := range b {
		if iv.IsEmpty() {
			return true
		}
	}
	return false
}

// Intersect returns the overlap of two boxes.
func (b Box) Intersect(o Box) Box {
	out := make(Box, len(b)+len(o))
	for dim, iv := range b {
		out[dim] = iv.Intersect(o.Get(dim))
	}
	for dim, iv := range o {
		if _, ok := b[dim]; !ok {
			out[dim] = iv
		}
	}
	return out
}

// Intersects reports whether the boxes share at least one point.
func (b Box) Intersects(o Box) bool {
	for dim, iv := range b {
		if iv.Intersect(o.Get(dim)).IsEmpty() {
			return false
		}
	}
	for dim, iv := range o {
		if _, ok := b[dim]; !ok && iv.IsEmpty() {
			return false
		}
	}
	return !b.IsEmpty()
}

// Contains reports whether the point lies inside the box. Dimensions of the
// box missing from the point are treated as satisfied.
func (b Box) Contains(point map[string]float64) bool {
	for dim, iv := range b {
		v, ok := point[dim]
		if !ok {
			continue
		}
		if !iv.Contains(v) {
			return false
		}
	}
	return true
}

// Clone returns a copy that can be modified independently.
func (b Box) Clone() Box {
	out := make(Box, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// subtract returns b minus o as a list of disjoint boxes.
func (b Box) subtract(o Box) []Box {
	if !b.Intersects(o) {
		return []Box{b}
	}

	dims := make([]string, 0, len(b)+len(o))
	seen := make(map[string]struct{}, len(b)+len(o))
	for _, m := range []Box{b, o} {
		for dim := range m {
			if _, ok := seen[dim]; !ok {
				seen[dim] = struct{}{}
				dims = append(dims, dim)
			}
		}
	}
	sort.Strings(dims)

	var out []Box
	rest := b.Clone()
	for _, dim := range dims {
		cur := rest.Get(dim)
		cut := o.Get(dim)
		if cur.Min < cut.Min {
			below := rest.Clone()
			below[dim] = Interval{Min: cur.Min, Max: cut.Min}
			out = append(out, below)
		}
		if cut.Max < cur.Max {
			above := rest.Clone()
			above[dim] = Interval{Min: cut.Max, Max: cur.Max}
			out = append(out, above)
		}
		rest[dim] = cur.Intersect(cut)
	}
	return out
}

func (b Box) volume() float64 {
	v := 1.0
	for _, iv := range b {
		if iv.IsEmpty() {
			return 0
		}
		v *= iv.Max - iv.Min
	}
	return v
}

func (b Box) String() string {
	if len(b) == 0 {
		return "{*}"
	}
	dims := make([]string, 0, len(b))
	for dim := range b {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	parts := make([]string, len(dims))
	for i, dim := range dims {
		parts[i] = dim + "=" + b[dim].String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Set is an immutable collection of boxes. Boxes may overlap; operations
// never mutate the receiver.
type Set struct {
	boxes []Box
}

// NewSet builds a set from boxes, dropping empty ones.
func NewSet(boxes ...Box) Set {
	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b == nil {
			b = Box{}
		}
		if !b.IsEmpty() {
			out = append(out, b.Clone())
		}
	}
	return Set{boxes: out}
}

// Universe returns the set covering everything.
func Universe() Set {
	return Set{boxes: []Box{{}}}
}

// Empty returns the empty set.
func Empty() Set {
	return Set{}
}

// FromInterval builds a single-box set over one dimension.
func FromInterval(dim string, min, max float64) Set {
	return NewSet(Box{dim: {Min: min, Max: max}})
}

// TimeSpan builds a set over the time dimension in Unix milliseconds.
func TimeSpan(start, end time.Time) Set {
	return FromInterval(TimeDimension, float64(start.UnixMilli()), float64(end.UnixMilli()))
}

// Boxes returns copies of the boxes in the set.
func (s Set) Boxes() []Box {
	out := make([]Box, len(s.boxes))
	for i, b := range s.boxes {
		out[i] = b.Clone()
	}
	return out
}

// Len is the number of boxes in the representation.
func (s Set) Len() int {
	return len(s.boxes)
}

// IsEmpty reports whether the set contains no point.
func (s Set) IsEmpty() bool {
	return len(s.boxes) == 0
}

// IsUniverse reports whether some box of the set is unbounded everywhere.
func (s Set) IsUniverse() bool {
	for _, b := range s.boxes {
		if len(b) == 0 {
			return true
		}
	}
	return false
}

// Union concatenates the boxes of both sets.
func Union(sets ...Set) Set {
	var out []Box
	for _, s := range sets {
		out = append(out, s.boxes...)
	}
	return Set{boxes: out}
}

// Subtract removes b from a and reports whether anything was removed.
func Subtract(a, b Set) (Set, bool) {
	changed := false
	cur := a.boxes
	for _, cut := range b.boxes {
		next := make([]Box, 0, len(cur))
		for _, box := range cur {
			if !box.Intersects(cut) {
				next = append(next, box)
				continue
			}
			changed = true
			next = append(next, box.subtract(cut)...)
		}
		cur = next
	}
	if !changed {
		return a, false
	}
	return NewSet(cur...), true
}

// Intersect returns the points present in both sets.
func Intersect(a, b Set) Set {
	var out []Box
	for _, x := range a.boxes {
		for _, y := range b.boxes {
			if x.Intersects(y) {
				out = append(out, x.Intersect(y))
			}
		}
	}
	return NewSet(out...)
}

// Intersects reports whether the sets share a point.
func Intersects(a, b Set) bool {
	for _, x := range a.boxes {
		for _, y := range b.boxes {
			if x.Intersects(y) {
				return true
			}
		}
	}
	return false
}

// Equivalent reports whether both sets cover exactly the same points.
func Equivalent(a, b Set) bool {
	ab, _ := Subtract(a, b)
	ba, _ := Subtract(b, a)
	return ab.IsEmpty() && ba.IsEmpty()
}

// Contains reports whether any box contains the point.
func (s Set) Contains(point map[string]float64) bool {
	for _, b := range s.boxes {
		if b.Contains(point) {
			return true
		}
	}
	return false
}

// Bounds returns the smallest box enclosing the set. The bounds of the
// empty set are an empty box over no dimension, reported with ok=false.
func (s Set) Bounds() (Box, bool) {
	if len(s.boxes) == 0 {
		return nil, false
	}
	dims := make(map[string]struct{})
	for _, b := range s.boxes {
		for dim := range b {
			dims[dim] = struct{}{}
		}
	}
	out := make(Box, len(dims))
	for dim := range dims {
		iv := Interval{Min: math.Inf(1), Max: math.Inf(-1)}
		for _, b := range s.boxes {
			cur := b.Get(dim)
			iv.Min = math.Min(iv.Min, cur.Min)
			iv.Max = math.Max(iv.Max, cur.Max)
		}
		if math.IsInf(iv.Min, -1) && math.IsInf(iv.Max, 1) {
			continue
		}
		out[dim] = iv
	}
	return out, true
}

// BoundingSet is the set holding only Bounds, or the empty set.
func (s Set) BoundingSet() Set {
	b, ok := s.Bounds()
	if !ok {
		return Empty()
	}
	return NewSet(b)
}

// Volume sums the volumes of the boxes. Overlapping boxes count twice, and
// any unbounded dimension yields +Inf.
func (s Set) Volume() float64 {
	total := 0.0
	for _, b := range s.boxes {
		total += b.volume()
	}
	return total
}

func (s Set) String() string {
	if len(s.boxes) == 0 {
		return "{}"
	}
	parts := make([]string, len(s.boxes))
	for i, b := range s.boxes {
		parts[i] = b.String()
	}
	return strings.Join(parts, "|")
}

// MarshalJSON encodes the set as its list of boxes.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.boxes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.boxes)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Set) UnmarshalJSON(data []byte) error {
	var boxes []Box
	if err := json.Unmarshal(data, &boxes); err != nil {
		return err
	}
	*s = NewSet(boxes...)
	return nil
}

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
