package resource

import "gopkg.in/yaml.v3"

// Attributes is an ordered bag of arbitrary fields. Values are kept as YAML
// nodes so scalars, nested mappings and sequences survive a load/save cycle
// unchanged, including their key order.
type Attributes struct {
	keys   []string
	values map[string]*yaml.Node
}

// Node returns the raw node for key, or nil.
func (a Attributes) Node(key string) *yaml.Node {
	return a.values[key]
}

// SetNode stores a raw node under key. Existing keys keep their position.
func (a *Attributes) SetNode(key string, node *yaml.Node) {
	if a.values == nil {
		a.values = make(map[string]*yaml.Node)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = node
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	if a.values == nil {
		return Attributes{}
	}
	out := Attributes{
		keys:   make([]string, len(a.keys)),
		values: make(map[string]*yaml.Node, len(a.values)),
	}
	copy(out.keys, a.keys)
	for k, v := range a.values {
		out.values[k] = cloneNode(v)
	}
	return out
}

// cloneNode deep-copies n. Aliases are expanded and anchors dropped so a
// node can be moved into another document safely.
func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return cloneNode(n.Alias)
	}
	c := *n
	c.Anchor = ""
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}
