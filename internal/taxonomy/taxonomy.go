// Package taxonomy holds the fixed incident taxonomy: the categories a report can be
// filed under and the tags allowed for each of them.
//
// An Index is built once and never mutated afterwards, so a single value can be shared
// by any number of goroutines without locking.
package taxonomy

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FallbackID is the id of the catch-all category in the default taxonomy.
const FallbackID = "other_category"

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Category is one node of the taxonomy.
type Category struct {
	ID          string   // Stable key, e.g. "fuel_theft"
	DisplayKey  string   // Localization lookup key, not human text
	AllowedTags []string // Canonical display order
}

// Index answers category and tag lookups for one taxonomy.
type Index struct {
	categories []Category
	byID       map[string]int
	tagSets    map[string]map[string]bool
	fallback   string
}

type document struct {
	Fallback   string `yaml:"fallback"`
	Categories []struct {
		ID         string   `yaml:"id"`
		DisplayKey string   `yaml:"display_key"`
		Tags       []string `yaml:"tags"`
	} `yaml:"categories"`
}

// Default returns the built-in DriverCheck taxonomy.
// It panics if the embedded definition is broken, which is a build defect.
func Default() *Index {
	idx, err := Parse(defaultTaxonomy)
	if err != nil {
		panic(fmt.Sprintf("taxonomy: embedded definition is invalid: %v", err))
	}
	return idx
}

// Parse builds an Index from a YAML taxonomy definition.
func Parse(data []byte) (*Index, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}

	categories := make([]Category, 0, len(doc.Categories))
	for _, c := range doc.Categories {
		categories = append(categories, Category{
			ID:          strings.TrimSpace(c.ID),
			DisplayKey:  strings.TrimSpace(c.DisplayKey),
			AllowedTags: c.Tags,
		})
	}

	fallback := strings.TrimSpace(doc.Fallback)
	if fallback == "" {
		fallback = FallbackID
	}
	return New(categories, fallback)
}

// New builds an Index from categories. The fallback id must be one of them and must
// not carry tags.
func New(categories []Category, fallbackID string) (*Index, error) {
	idx := &Index{
		categories: make([]Category, 0, len(categories)),
		byID:       make(map[string]int, len(categories)),
		tagSets:    make(map[string]map[string]bool, len(categories)),
		fallback:   fallbackID,
	}

	for _, c := range categories {
		if c.ID == "" {
			return nil, fmt.Errorf("category with empty id")
		}
		if _, dup := idx.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %q", c.ID)
		}

		tags := make([]string, 0, len(c.AllowedTags))
		set := make(map[string]bool, len(c.AllowedTags))
		for _, t := range c.AllowedTags {
			t = strings.TrimSpace(t)
			if t == "" || set[t] {
				continue
			}
			set[t] = true
			tags = append(tags, t)
		}
		if c.DisplayKey == "" {
			c.DisplayKey = "categories." + c.ID
		}
		c.AllowedTags = tags

		idx.byID[c.ID] = len(idx.categories)
		idx.tagSets[c.ID] = set
		idx.categories = append(idx.categories, c)
	}

	fb, ok := idx.byID[fallbackID]
	if !ok {
		return nil, fmt.Errorf("fallback category %q is not defined", fallbackID)
	}
	if len(idx.categories[fb].AllowedTags) > 0 {
		return nil, fmt.Errorf("fallback category %q must not have tags", fallbackID)
	}

	return idx, nil
}

// Categories returns all categories in definition order.
// The returned slice is a copy; callers may modify it.
func (x *Index) Categories() []Category {
	out := make([]Category, len(x.categories))
	for i, c := range x.categories {
		c.AllowedTags = append([]string(nil), c.AllowedTags...)
		out[i] = c
	}
	return out
}

// Category returns the category with the given id.
func (x *Index) Category(id string) (Category, bool) {
	i, ok := x.byID[id]
	if !ok {
		return Category{}, false
	}
	c := x.categories[i]
	c.AllowedTags = append([]string(nil), c.AllowedTags...)
	return c, true
}

// TagsFor returns the allowed tags of a category, or an empty slice for unknown ids.
func (x *Index) TagsFor(id string) []string {
	i, ok := x.byID[id]
	if !ok {
		return []string{}
	}
	return append([]string{}, x.categories[i].AllowedTags...)
}

// IsValidCategory reports whether id names a category of this taxonomy.
func (x *Index) IsValidCategory(id string) bool {
	_, ok := x.byID[id]
	return ok
}

// IsValidTag reports whether tag is allowed for the category.
func (x *Index) IsValidTag(categoryID, tag string) bool {
	return x.tagSets[categoryID][tag]
}

// Fallback returns the id of the catch-all category.
func (x *Index) Fallback() string {
	return x.fallback
}
