// Package model holds the value types shared by the registry: categories,
// property descriptors and matchers, satisfactions, queries and deposits.
package model

import "strings"

// Wildcard is the category field value that matches anything.
const Wildcard = ""

// Category identifies a class of models by source, family and category.
// An empty field is a wildcard.
type Category struct {
	Source   string `json:"source,omitempty" mapstructure:"source" toml:"source"`
	Family   string `json:"family,omitempty" mapstructure:"family" toml:"family"`
	Category string `json:"category,omitempty" mapstructure:"category" toml:"category"`
}

// NewCategory builds a category triple.
func NewCategory(source, family, category string) Category {
	return Category{Source: source, Family: family, Category: category}
}

// Matches reports whether the two categories are compatible, treating a
// wildcard on either side as matching any value.
func (c Category) Matches(o Category) bool {
	return fieldMatches(c.Source, o.Source) &&
		fieldMatches(c.Family, o.Family) &&
		fieldMatches(c.Category, o.Category)
}

// IsWildcard reports whether every field is a wildcard.
func (c Category) IsWildcard() bool {
	return c.Source == Wildcard && c.Family == Wildcard && c.Category == Wildcard
}

func (c Category) String() string {
	return strings.Join([]string{field(c.Source), field(c.Family), field(c.Category)}, "/")
}

// ParseCategory reads the "source/family/category" form produced by String.
// Missing trailing parts and "*" are wildcards.
func ParseCategory(s string) Category {
	parts := strings.SplitN(s, "/", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	for i, p := range parts {
		if p == "*" {
			parts[i] = Wildcard
		}
	}
	return Category{Source: parts[0], Family: parts[1], Category: parts[2]}
}

func fieldMatches(a, b string) bool {
	return a == Wildcard || b == Wildcard || a == b
}

func field(s string) string {
	if s == Wildcard {
		return "*"
	}
	return s
}
