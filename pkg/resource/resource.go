// Package resource defines the resource model shared by the scanner,
// the reconciler and the state documents.
package resource

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reserved attribute keys.
const (
	// SeenKey holds the first observation time, seconds since epoch.
	SeenKey = "__seen__"
	// CreatedAtKey holds the creation time reported by the source system.
	CreatedAtKey = "createdat"
	// TagsKey holds the tag subset used for policy overrides.
	TagsKey = "tags"
)

// Resource is one scanned cloud resource. Everything the scanner reports
// besides type and id is kept verbatim in Attrs.
type Resource struct {
	Kind  string     // Resource type (e.g., "aws_instance")
	ID    string     // Unique within Kind
	Attrs Attributes // All other fields, in document order
}

// New creates a resource with an empty attribute bag.
func New(kind, id string) Resource {
	return Resource{Kind: kind, ID: id}
}

// Key returns the identity of the resource.
func (r Resource) Key() Key {
	return Key{Kind: r.Kind, ID: r.ID}
}

// Clone returns a copy whose attribute bag can be modified independently.
func (r Resource) Clone() Resource {
	return Resource{Kind: r.Kind, ID: r.ID, Attrs: r.Attrs.Clone()}
}

// FirstSeen returns the recorded first observation time in seconds since
// epoch. ok is false when the resource was never stamped.
func (r Resource) FirstSeen() (seconds float64, ok bool) {
	node := r.Attrs.Node(SeenKey)
	if node == nil || isNull(node) {
		return 0, false
	}
	if node.Kind != yaml.ScalarNode {
		return 0, false
	}
	v, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetFirstSeen stamps the first observation time. The value is written in
// plain decimal notation so the state document stays human readable.
func (r *Resource) SetFirstSeen(seconds float64) {
	node := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!float",
		Value: strconv.FormatFloat(seconds, 'f', -1, 64),
	}
	if !strings.ContainsAny(node.Value, ".eE") {
		node.Tag = "!!int"
	}
	r.Attrs.SetNode(SeenKey, node)
}

// CreatedAt parses the reported creation time. ok is false when the field
// is absent, null or not a recognizable timestamp.
func (r Resource) CreatedAt() (t time.Time, ok bool) {
	node := r.Attrs.Node(CreatedAtKey)
	if node == nil || isNull(node) || node.Kind != yaml.ScalarNode {
		return time.Time{}, false
	}
	return ParseTimestamp(node.Value)
}

// Tags returns the raw tags node, or nil when the resource carries none.
func (r Resource) Tags() *yaml.Node {
	node := r.Attrs.Node(TagsKey)
	if node == nil || isNull(node) {
		return nil
	}
	return node
}

// TagPair returns the key and value of an AWS-style {Key, Value} tag
// item. ok is false for any other node.
func TagPair(item *yaml.Node) (key, value *yaml.Node, ok bool) {
	if item == nil || item.Kind != yaml.MappingNode {
		return nil, nil, false
	}
	for i := 0; i+1 < len(item.Content); i += 2 {
		switch item.Content[i].Value {
		case "key", "Key":
			key = item.Content[i+1]
		case "value", "Value":
			value = item.Content[i+1]
		}
	}
	return key, value, key != nil && value != nil
}

// String returns kind/id.
func (r Resource) String() string {
	return r.Key().String()
}

// Key identifies a resource across scans.
type Key struct {
	Kind string
	ID   string
}

// String returns kind/id.
func (k Key) String() string {
	return k.Kind + "/" + k.ID
}

// Less orders keys by kind, then id.
func (k Key) Less(other Key) bool {
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.ID < other.ID
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp forms produced by YAML emitters.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isNull(node *yaml.Node) bool {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		return isNull(node.Alias)
	}
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null"
}

// mustScalar builds a string scalar node.
func mustScalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func scalarString(node *yaml.Node, field string) (string, error) {
	if node.Kind != yaml.ScalarNode || isNull(node) {
		return "", fmt.Errorf("field %q: expected scalar, got %s", field, describe(node))
	}
	return node.Value, nil
}

func describe(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	if isNull(node) {
		return "null"
	}
	return "scalar"
}
