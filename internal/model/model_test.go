package model

import (
	"reflect"
	"sync"
	"testing"

	"modelreg/internal/region"
)

func TestCategoryMatches(t *testing.T) {
	tests := []struct {
		name string
		a, b Category
		want bool
	}{
		{"equal", NewCategory("S", "F", "C"), NewCategory("S", "F", "C"), true},
		{"different category", NewCategory("S", "F", "C"), NewCategory("S", "F", "D"), false},
		{"wildcard left", NewCategory("", "F", ""), NewCategory("S", "F", "C"), true},
		{"wildcard right", NewCategory("S", "F", "C"), NewCategory("S", "", "C"), true},
		{"wildcard does not cover other field", NewCategory("", "F", "C"), NewCategory("S", "G", "C"), false},
		{"all wildcard", Category{}, NewCategory("S", "F", "C"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Matches(tt.b); got != tt.want {
				t.Errorf("%v.Matches(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Matches(tt.a); got != tt.want {
				t.Errorf("Matches should be symmetric")
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"S/F/C", NewCategory("S", "F", "C")},
		{"*/F/*", NewCategory("", "F", "")},
		{"S", NewCategory("S", "", "")},
	}
	for _, tt := range tests {
		if got := ParseCategory(tt.in); got != tt.want {
			t.Errorf("ParseCategory(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if got := NewCategory("S", "", "C").String(); got != "S/*/C" {
		t.Errorf("String() = %q", got)
	}
}

func TestPropertyDescriptorEquality(t *testing.T) {
	a := NewPropertyDescriptor[string]("name")
	b := NewPropertyDescriptor[string]("name")
	c := NewPropertyDescriptor[int]("name")

	if a != b {
		t.Error("descriptors with equal name and type should be equal")
	}
	if a == c {
		t.Error("descriptors with different types should differ")
	}
	if a.Type != reflect.TypeOf("") {
		t.Errorf("Type = %v, want string", a.Type)
	}
}

func TestPropertyMatcher(t *testing.T) {
	d := NewPropertyDescriptor[float64]("depth")
	s := NewPropertyDescriptor[string]("name")

	tests := []struct {
		name string
		m    PropertyMatcher
		v    any
		want bool
	}{
		{"eq across numeric types", Equal(d, 3), 3.0, true},
		{"ne", PropertyMatcher{d, OpNE, 3}, 4, true},
		{"lt", PropertyMatcher{d, OpLT, 3}, 2.5, true},
		{"le equal", PropertyMatcher{d, OpLE, 3}, 3, true},
		{"gt false", PropertyMatcher{d, OpGT, 3}, 3, false},
		{"ge", PropertyMatcher{d, OpGE, 3}, 4, true},
		{"like prefix", PropertyMatcher{s, OpLike, "abc*"}, "abcdef", true},
		{"like suffix", PropertyMatcher{s, OpLike, "*def"}, "abcdef", true},
		{"like contains", PropertyMatcher{s, OpLike, "*cd*"}, "abcdef", true},
		{"like miss", PropertyMatcher{s, OpLike, "x*"}, "abcdef", false},
		{"nil never matches", Equal(d, 3), nil, false},
		{"mismatched types", Equal(d, 3), "3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Matches(tt.v); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestMatchersKeyOrderIndependent(t *testing.T) {
	a := Equal(NewPropertyDescriptor[string]("name"), "x")
	b := PropertyMatcher{NewPropertyDescriptor[int]("n"), OpGT, 2}

	if MatchersKey([]PropertyMatcher{a, b}) != MatchersKey([]PropertyMatcher{b, a}) {
		t.Error("MatchersKey should not depend on order")
	}
	if MatchersKey([]PropertyMatcher{a}) == MatchersKey([]PropertyMatcher{b}) {
		t.Error("different matchers should have different keys")
	}
	if MatchersKey(nil) != "" {
		t.Error("no matchers should give the empty key")
	}
}

func TestQuery(t *testing.T) {
	names := NewCollectingReceiver[string]("name")
	again := NewCollectingReceiver[string]("name")
	depth := NewCollectingReceiver[float64]("depth")

	scalar := NewQuery(NewCategory("S", "F", "C"), region.Empty(), names, again, depth)
	if scalar.IsIntervalQuery() {
		t.Error("query without region should be scalar")
	}
	if !scalar.FullRegion().IsUniverse() {
		t.Error("scalar query should cover the universe")
	}
	if scalar.IsPaged() {
		t.Error("NewQuery should not be paged")
	}
	if got := len(scalar.Descriptors()); got != 2 {
		t.Errorf("Descriptors() len = %d, want 2", got)
	}

	interval := scalar.WithRegion(region.FromInterval("x", 0, 10))
	if !interval.IsIntervalQuery() {
		t.Error("WithRegion should make an interval query")
	}
	if scalar.IsIntervalQuery() {
		t.Error("WithRegion must not modify the original")
	}
}

func TestCollectingReceiver(t *testing.T) {
	r := NewCollectingReceiver[string]("name")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Receive([]int64{id}, []any{"v"})
		}(int64(i))
	}
	wg.Wait()

	r.Receive([]int64{100, 101}, []any{42, "ok"})

	if got := r.Len(); got != 11 {
		t.Errorf("Len() = %d, want 11", got)
	}
	if _, ok := r.Values()[100]; ok {
		t.Error("value of the wrong type should be dropped")
	}
}

func TestDepositItemWithin(t *testing.T) {
	r := region.FromInterval("x", 0, 10)

	tests := []struct {
		name string
		item DepositItem
		want bool
	}{
		{"point inside", DepositItem{Extent: region.Box{"x": {Min: 5, Max: 5}}}, true},
		{"point on open end", DepositItem{Extent: region.Box{"x": {Min: 10, Max: 10}}}, false},
		{"overlapping extent", DepositItem{Extent: region.Box{"x": {Min: 8, Max: 12}}}, true},
		{"outside extent", DepositItem{Extent: region.Box{"x": {Min: 11, Max: 12}}}, false},
		{"no extent", DepositItem{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Within(r); got != tt.want {
				t.Errorf("Within = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegions(t *testing.T) {
	sats := []Satisfaction{
		NewSatisfaction(region.FromInterval("x", 0, 5)),
		IDSatisfaction(region.FromInterval("x", 5, 10), []int64{1, 2}),
	}
	if !region.Equivalent(Regions(sats), region.FromInterval("x", 0, 10)) {
		t.Errorf("Regions = %v", Regions(sats))
	}
	if !sats[1].HasIDs || len(sats[1].IDs) != 2 {
		t.Error("IDSatisfaction should carry ids")
	}
}
