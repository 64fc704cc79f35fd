// Package filter narrows the scanned listing before reconciliation.
// Filtered resources are neither tracked nor deleted.
package filter

import (
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/sweepr/pkg/resource"
)

// Filter controls which resource kinds and tagged resources are considered.
type Filter struct {
	excludeKinds map[string]bool
	includeTags  map[string]string
	excludeTags  map[string]string
}

// New creates a new Filter from the provided configuration.
func New(excludeKinds []string, includeTags, excludeTags map[string]string) *Filter {
	excludeMap := make(map[string]bool)
	for _, k := range excludeKinds {
		excludeMap[k] = true
	}

	return &Filter{
		excludeKinds: excludeMap,
		includeTags:  includeTags,
		excludeTags:  excludeTags,
	}
}

// ShouldKeepKind returns true if resources of the given kind are reconciled.
func (f *Filter) ShouldKeepKind(kind string) bool {
	return !f.excludeKinds[kind]
}

// ShouldIncludeResource returns true if the resource passes kind and tag filters.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	if !f.ShouldKeepKind(r.Kind) {
		return false
	}

	// ALL include tags must match
	for k, v := range f.includeTags {
		if got, ok := tagValue(r.Tags(), k); !ok || got != v {
			return false
		}
	}

	// ANY exclude tag excludes
	for k, v := range f.excludeTags {
		if got, ok := tagValue(r.Tags(), k); ok && got == v {
			return false
		}
	}

	return true
}

// FilterResources returns only resources that pass the filter, keeping order.
func (f *Filter) FilterResources(resources []resource.Resource) []resource.Resource {
	if f.IsEmpty() {
		return resources
	}

	filtered := make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.ShouldIncludeResource(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeKinds) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}

// tagValue looks up key in a tags mapping. Sequences of {key, value}
// mappings, as some AWS listings emit, are also understood.
func tagValue(tags *yaml.Node, key string) (string, bool) {
	if tags == nil {
		return "", false
	}
	switch tags.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(tags.Content); i += 2 {
			k, v := tags.Content[i], tags.Content[i+1]
			if k.Value == key && v.Kind == yaml.ScalarNode && v.ShortTag() != "!!null" {
				return v.Value, true
			}
		}
	case yaml.SequenceNode:
		for _, item := range tags.Content {
			k, v, ok := resource.TagPair(item)
			if ok && k.Value == key {
				return v.Value, true
			}
		}
	}
	return "", false
}
