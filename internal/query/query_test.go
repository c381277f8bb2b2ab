package query

import (
	"context"
	"math"
	"testing"

	"modelreg/internal/errors"
	"modelreg/internal/model"
	"modelreg/internal/region"
	"modelreg/internal/tracker"
)

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    region.Set
		wantErr bool
	}{
		{"", region.Empty(), false},
		{"t=0:10", region.FromInterval("t", 0, 10), false},
		{"t=:10", region.FromInterval("t", math.Inf(-1), 10), false},
		{"x=0:1,y=2:3", region.NewSet(region.Box{"x": {Min: 0, Max: 1}, "y": {Min: 2, Max: 3}}), false},
		{"t=0:1|t=5:6", region.NewSet(region.Box{"t": {Min: 0, Max: 1}}, region.Box{"t": {Min: 5, Max: 6}}), false},
		{"t=1700000000000:", region.FromInterval("t", 1700000000000, math.Inf(1)), false},
		{"t=5:1", region.Set{}, true},
		{"t", region.Set{}, true},
		{"t=1", region.Set{}, true},
		{"t=a:b", region.Set{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRegion(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseRegion(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRegion(%q) error = %v", tt.in, err)
			}
			if got.IsEmpty() != tt.want.IsEmpty() || !region.Equivalent(got, tt.want) {
				t.Errorf("ParseRegion(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		in      string
		want    Condition
		wantErr bool
	}{
		{in: "name=foo", want: Condition{"name", model.OpEQ, "foo"}},
		{in: "temp>=3.5", want: Condition{"temp", model.OpGE, 3.5}},
		{in: "temp<2", want: Condition{"temp", model.OpLT, 2.0}},
		{in: "active!=true", want: Condition{"active", model.OpNE, true}},
		{in: "name~ab%", want: Condition{"name", model.OpLike, "ab%"}},
		{in: "expr=a>b", want: Condition{"expr", model.OpEQ, "a>b"}},
		{in: "=foo", wantErr: true},
		{in: "plain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCondition(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCondition(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCondition(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseCondition(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOrder(t *testing.T) {
	if got := ParseOrder("-temp"); got != (Order{Property: "temp", Descending: true}) {
		t.Errorf("ParseOrder(-temp) = %+v", got)
	}
	if got := ParseOrder("temp"); got != (Order{Property: "temp"}) {
		t.Errorf("ParseOrder(temp) = %+v", got)
	}
}

func TestBuild(t *testing.T) {
	req := Request{
		Category:   "S/F/C",
		Region:     region.FromInterval("t", 0, 10),
		Where:      []Condition{{Property: "name", Value: "x"}},
		Properties: []string{"temp", "temp", "name"},
		Order:      []Order{{Property: "temp", Descending: true}},
		Limit:      5,
	}
	q, col, err := req.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if q.Category != model.NewCategory("S", "F", "C") {
		t.Errorf("Category = %v", q.Category)
	}
	if len(q.Receivers) != 2 {
		t.Errorf("receivers = %d, want 2", len(q.Receivers))
	}
	if len(q.Parameters) != 1 || q.Parameters[0].Operator != model.OpEQ {
		t.Errorf("Parameters = %+v", q.Parameters)
	}
	if q.Limit != 5 || !q.IsPaged() {
		t.Errorf("Limit = %d", q.Limit)
	}
	if len(q.Order) != 1 || !q.Order[0].Descending {
		t.Errorf("Order = %+v", q.Order)
	}
	if col.Values() == nil {
		t.Error("Values() should hold an entry per property")
	}

	unpaged, _, err := Request{Category: "S/F/C"}.Build()
	if err != nil {
		t.Fatal(err)
	}
	if unpaged.IsPaged() {
		t.Error("zero limit should be unlimited")
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"no category", Request{}},
		{"negative limit", Request{Category: "S/F/C", Limit: -1}},
		{"empty property", Request{Category: "S/F/C", Properties: []string{""}}},
		{"condition without property", Request{Category: "S/F/C", Where: []Condition{{Value: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tt.req.Build(); errors.CodeOf(err) != errors.InvalidArgument {
				t.Errorf("Build() error = %v, want INVALID_ARGUMENT", err)
			}
		})
	}
}

// fakeRegistry answers every query with fixed ids.
type fakeRegistry struct {
	ids         []int64
	submitCalls int
	localCalls  int
}

func (f *fakeRegistry) SubmitQuery(_ context.Context, q *model.Query) (*tracker.MultiTracker, error) {
	f.submitCalls++
	t := tracker.NewMultiTracker(q, tracker.Options{})
	sub := t.CreateSubTracker(true, []model.Satisfaction{model.NewSatisfaction(t.FullRegion())}, region.Set{})
	for _, rc := range q.Receivers {
		rc.Receive(f.ids, []any{"v1", "v2"})
	}
	sub.AddIDs(f.ids...)
	_ = sub.SetStatus(tracker.Success, nil)
	return t, nil
}

func (f *fakeRegistry) PerformLocalQuery(_ context.Context, _ *model.Query) []int64 {
	f.localCalls++
	return nil
}

func TestExecute(t *testing.T) {
	reg := &fakeRegistry{ids: []int64{1, 2}}

	res, err := Execute(context.Background(), reg, Request{Category: "S/F/C", Properties: []string{"name"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.IDs) != 2 || res.Values["name"][2] != "v2" {
		t.Errorf("result = %+v", res)
	}

	res, err = Execute(context.Background(), reg, Request{Category: "S/F/C", Local: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.IDs == nil || len(res.IDs) != 0 {
		t.Errorf("local ids = %#v, want empty slice", res.IDs)
	}
	if reg.submitCalls != 1 || reg.localCalls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", reg.submitCalls, reg.localCalls)
	}
}
