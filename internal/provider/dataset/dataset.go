// Package dataset serves models declared in TOML files. Each file is one
// provider.
package dataset

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"modelreg/internal/errors"
	"modelreg/internal/model"
	"modelreg/internal/provider"
	"modelreg/internal/region"
)

// DefaultBatchSize is the number of models per deposit when a query does not
// ask for a batch size.
const DefaultBatchSize = 100

// Bounds maps a dimension to a [min, max) pair. TOML's inf and -inf leave
// that side unbounded.
type Bounds map[string][2]float64

func (b Bounds) box() region.Box {
	if len(b) == 0 {
		return nil
	}
	out := make(region.Box, len(b))
	for dim, mm := range b {
		out[dim] = region.Interval{Min: mm[0], Max: mm[1]}
	}
	return out
}

// Model is one entry of a dataset file.
type Model struct {
	Key    string         `toml:"key"`
	Extent Bounds         `toml:"extent,omitempty"`
	Values map[string]any `toml:"values,omitempty"`
}

// File is the content of a dataset file.
type File struct {
	Name     string         `toml:"name"`
	Category model.Category `toml:"category"`

	// Coverage is the region the dataset answers completely. When empty the
	// bounding box of the models' extents is used.
	Coverage Bounds  `toml:"coverage,omitempty"`
	Models   []Model `toml:"models"`
}

// Provider serves one dataset file.
type Provider struct {
	name     string
	category model.Category
	coverage region.Set
	items    []model.DepositItem
}

// Load reads a dataset file.
func Load(path string) (*Provider, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf(errors.InvalidArgument, "dataset %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return New(f)
}

// LoadDir loads every *.toml file in dir, in name order.
func LoadDir(dir string) ([]*Provider, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Provider, 0, len(paths))
	for _, p := range paths {
		ds, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// New builds a provider from a decoded file.
func New(f File) (*Provider, error) {
	if f.Name == "" {
		return nil, errors.Newf(errors.InvalidArgument, "dataset has no name")
	}
	if c := f.Category; c.Source == model.Wildcard || c.Family == model.Wildcard || c.Category == model.Wildcard {
		return nil, errors.Newf(errors.InvalidArgument, "dataset %s: category must not contain wildcards", f.Name)
	}

	p := &Provider{name: f.Name, category: f.Category}
	seen := make(map[string]struct{}, len(f.Models))
	var extents []region.Set
	for i, m := range f.Models {
		if m.Key == "" {
			return nil, errors.Newf(errors.InvalidArgument, "dataset %s: model %d has no key", f.Name, i)
		}
		if _, dup := seen[m.Key]; dup {
			return nil, errors.Newf(errors.InvalidArgument, "dataset %s: duplicate key %q", f.Name, m.Key)
		}
		seen[m.Key] = struct{}{}
		it := model.DepositItem{Key: m.Key, Extent: m.Extent.box(), Values: m.Values}
		p.items = append(p.items, it)
		if len(it.Extent) > 0 {
			extents = append(extents, region.NewSet(closed(it.Extent)))
		}
	}

	if cov := f.Coverage.box(); cov != nil {
		p.coverage = region.NewSet(cov)
	} else if len(extents) > 0 {
		p.coverage = region.Union(extents...).BoundingSet()
	} else {
		p.coverage = region.Universe()
	}
	return p, nil
}

// closed widens degenerate point extents so that they have a volume.
func closed(b region.Box) region.Box {
	out := b.Clone()
	for dim, iv := range out {
		if iv.Min == iv.Max {
			iv.Max = math.Nextafter(iv.Max, math.Inf(1))
			out[dim] = iv
		}
	}
	return out
}

// Name implements provider.DataProvider.
func (p *Provider) Name() string { return p.name }

// Category returns the category the dataset serves.
func (p *Provider) Category() model.Category { return p.category }

// Coverage returns the region the dataset answers.
func (p *Provider) Coverage() region.Set { return p.coverage }

// Len returns the number of models.
func (p *Provider) Len() int { return len(p.items) }

// ProvidesDataFor implements provider.DataProvider.
func (p *Provider) ProvidesDataFor(c model.Category) bool {
	return c.Matches(p.category)
}

// Satisfaction implements provider.DataProvider. A scalar query, whose
// region is the universe, is answered whole.
func (p *Provider) Satisfaction(_ context.Context, c model.Category, unsatisfied region.Set) ([]model.Satisfaction, error) {
	if !p.ProvidesDataFor(c) {
		return nil, nil
	}
	if unsatisfied.IsUniverse() {
		return []model.Satisfaction{model.NewSatisfaction(unsatisfied)}, nil
	}
	r := region.Intersect(unsatisfied, p.coverage)
	if r.IsEmpty() {
		return nil, nil
	}
	return []model.Satisfaction{model.NewSatisfaction(r)}, nil
}

// Query implements provider.DataProvider.
func (p *Provider) Query(ctx context.Context, req provider.Request, receive provider.DepositFunc) error {
	r := req.Region()
	batch := make([]model.DepositItem, 0, DefaultBatchSize)
	sent := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		d := model.Deposit{Source: p.name, Category: p.category, Items: batch}
		batch = make([]model.DepositItem, 0, DefaultBatchSize)
		return receive(d)
	}

	for _, it := range p.items {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.Interrupted, "dataset query interrupted", err)
		}
		if req.Limit != model.Unlimited && sent >= req.Limit {
			break
		}
		if !r.IsUniverse() && !it.Within(r) {
			continue
		}
		if !model.MatchAll(req.Parameters, it.Values) {
			continue
		}
		batch = append(batch, it)
		sent++
		if len(batch) == DefaultBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// Save writes f to path.
func Save(path string, f File) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer out.Close()

	if err := toml.NewEncoder(out).Encode(f); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return nil
}
