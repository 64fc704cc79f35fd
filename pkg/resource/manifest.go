package resource

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Entry is one resource queued for deletion. Only the id is carried.
type Entry struct {
	ID string `yaml:"id"`
}

// Manifest groups deletions by kind. Kinds keep the order in which they
// were first added and entries keep insertion order within a kind.
type Manifest struct {
	kinds   []string
	entries map[string][]Entry
}

// NewManifest builds a manifest from resources in order.
func NewManifest(resources []Resource) *Manifest {
	m := &Manifest{}
	for _, r := range resources {
		m.Add(r.Kind, r.ID)
	}
	return m
}

// Add appends id under kind.
func (m *Manifest) Add(kind, id string) {
	if m.entries == nil {
		m.entries = make(map[string][]Entry)
	}
	if _, ok := m.entries[kind]; !ok {
		m.kinds = append(m.kinds, kind)
	}
	m.entries[kind] = append(m.entries[kind], Entry{ID: id})
}

// Kinds returns the kinds in first-occurrence order.
func (m *Manifest) Kinds() []string {
	out := make([]string, len(m.kinds))
	copy(out, m.kinds)
	return out
}

// Entries returns the entries recorded for kind.
func (m *Manifest) Entries(kind string) []Entry {
	return m.entries[kind]
}

// Len returns the total number of entries.
func (m *Manifest) Len() int {
	n := 0
	for _, e := range m.entries {
		n += len(e)
	}
	return n
}

// IsEmpty reports whether nothing is queued.
func (m *Manifest) IsEmpty() bool {
	return len(m.kinds) == 0
}

// MarshalYAML writes a kind -> [{id}] mapping in first-occurrence order.
func (m *Manifest) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, kind := range m.kinds {
		var list yaml.Node
		if err := list.Encode(m.entries[kind]); err != nil {
			return nil, fmt.Errorf("encode %s entries: %w", kind, err)
		}
		node.Content = append(node.Content, mustScalar(kind), &list)
	}
	return node, nil
}
