package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"modelreg/internal/errors"
	"modelreg/internal/model"
	"modelreg/internal/region"
)

// ParseRegion reads "dim=min:max,dim=min:max" with boxes separated by "|".
// An omitted bound is unbounded. Bounds are numbers or RFC 3339 times, the
// latter in Unix milliseconds. The empty string is the empty region of a
// scalar query.
func ParseRegion(s string) (region.Set, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return region.Empty(), nil
	}
	var boxes []region.Box
	for _, part := range strings.Split(s, "|") {
		box := region.Box{}
		for _, dim := range strings.Split(part, ",") {
			name, bounds, ok := strings.Cut(strings.TrimSpace(dim), "=")
			if !ok || name == "" {
				return region.Set{}, errors.Newf(errors.InvalidArgument, "bad region term %q, want dim=min:max", dim)
			}
			lo, hi, ok := strings.Cut(bounds, ":")
			if !ok {
				return region.Set{}, errors.Newf(errors.InvalidArgument, "bad bounds %q for %s, want min:max", bounds, name)
			}
			min, err := parseBound(lo, math.Inf(-1))
			if err != nil {
				return region.Set{}, err
			}
			max, err := parseBound(hi, math.Inf(1))
			if err != nil {
				return region.Set{}, err
			}
			iv := region.Interval{Min: min, Max: max}
			if iv.IsEmpty() {
				return region.Set{}, errors.Newf(errors.InvalidArgument, "empty interval %s for %s", iv, name)
			}
			box[name] = iv
		}
		boxes = append(boxes, box)
	}
	return region.NewSet(boxes...), nil
}

func parseBound(s string, open float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return open, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return float64(t.UnixMilli()), nil
	}
	return 0, errors.Newf(errors.InvalidArgument, "bad bound %q", s)
}

// operators in match order: two-character operators first.
var operators = []struct {
	token string
	op    model.Operator
}{
	{">=", model.OpGE},
	{"<=", model.OpLE},
	{"!=", model.OpNE},
	{"=", model.OpEQ},
	{"<", model.OpLT},
	{">", model.OpGT},
	{"~", model.OpLike},
}

// ParseCondition reads "property<op>value" where op is one of = != < <= > >=
// or ~ for LIKE. Values that parse as numbers or booleans are typed.
func ParseCondition(s string) (Condition, error) {
	best, at := -1, -1
	for i, o := range operators {
		idx := strings.Index(s, o.token)
		if idx <= 0 {
			continue
		}
		if at < 0 || idx < at || (idx == at && len(o.token) > len(operators[best].token)) {
			best, at = i, idx
		}
	}
	if best < 0 {
		return Condition{}, errors.Newf(errors.InvalidArgument, "bad condition %q, want property<op>value", s)
	}
	o := operators[best]
	return Condition{
		Property: strings.TrimSpace(s[:at]),
		Op:       o.op,
		Value:    parseValue(strings.TrimSpace(s[at+len(o.token):]), o.op),
	}, nil
}

func parseValue(s string, op model.Operator) any {
	if op == model.OpLike {
		return s
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// ParseOrder reads "property" or "-property" for descending.
func ParseOrder(s string) Order {
	if strings.HasPrefix(s, "-") {
		return Order{Property: s[1:], Descending: true}
	}
	return Order{Property: s}
}
