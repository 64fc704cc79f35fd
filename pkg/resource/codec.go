package resource

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	kindKey = "type"
	idKey   = "id"
)

// UnmarshalYAML reads a resource mapping. type and id are required.
func (r *Resource) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: resource must be a mapping, got %s", node.Line, describe(node))
	}

	var out Resource
	var haveKind, haveID bool
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		switch key {
		case kindKey:
			v, err := scalarString(valueNode, key)
			if err != nil {
				return fmt.Errorf("line %d: %w", valueNode.Line, err)
			}
			out.Kind, haveKind = v, true
		case idKey:
			v, err := scalarString(valueNode, key)
			if err != nil {
				return fmt.Errorf("line %d: %w", valueNode.Line, err)
			}
			out.ID, haveID = v, true
		default:
			out.Attrs.SetNode(key, cloneNode(valueNode))
		}
	}

	if !haveKind || !haveID {
		return fmt.Errorf("line %d: resource requires %q and %q", node.Line, kindKey, idKey)
	}
	*r = out
	return nil
}

// MarshalYAML writes type, id and then the attributes in order.
func (r Resource) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	node.Content = append(node.Content,
		mustScalar(kindKey), mustScalar(r.Kind),
		mustScalar(idKey), mustScalar(r.ID),
	)
	for _, key := range r.Attrs.keys {
		node.Content = append(node.Content, mustScalar(key), cloneNode(r.Attrs.values[key]))
	}
	return node, nil
}

// ParseList decodes a YAML sequence of resources. An empty or null
// document is an empty list. Every item must be a resource mapping, null
// items included.
func ParseList(data []byte) ([]Resource, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || isNull(doc.Content[0]) {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.AliasNode && root.Alias != nil {
		root = root.Alias
	}
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: resource list must be a sequence, got %s", root.Line, describe(root))
	}

	resources := make([]Resource, 0, len(root.Content))
	for _, item := range root.Content {
		var r Resource
		if err := r.UnmarshalYAML(item); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, nil
}

// Encode writes v as YAML with two-space indentation.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
