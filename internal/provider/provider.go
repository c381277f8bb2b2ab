// Package provider defines the contract of external data providers and the
// adapter that runs them on a worker pool and writes what they return into
// the cache.
package provider

import (
	"context"

	"modelreg/internal/model"
	"modelreg/internal/region"
)

// Request is what a provider is asked to fetch.
type Request struct {
	Category      model.Category
	Satisfactions []model.Satisfaction
	Parameters    []model.PropertyMatcher
	Order         []model.OrderSpecifier
	Limit         int
	Descriptors   []model.PropertyDescriptor
}

// Region returns the union of the request's satisfactions.
func (r Request) Region() region.Set {
	return model.Regions(r.Satisfactions)
}

// DepositFunc receives the models a provider retrieved. A provider stops
// fetching when it returns an error.
type DepositFunc func(d model.Deposit) error

// DataProvider fetches models from outside the registry.
//
// Query must stop promptly once ctx is done and report it with an error
// carrying the INTERRUPTED code, or with ctx.Err().
type DataProvider interface {
	Name() string
	ProvidesDataFor(category model.Category) bool
	Satisfaction(ctx context.Context, category model.Category, unsatisfied region.Set) ([]model.Satisfaction, error)
	Query(ctx context.Context, req Request, receive DepositFunc) error
}
