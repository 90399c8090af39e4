package domain

import (
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// PathSeparator splits datapoint values into several hierarchy levels.
const PathSeparator = "/"

// Level is one named level of the object hierarchy. A reading datapoint whose
// name equals Name supplies the path segment(s) at this depth.
type Level struct {
	Name     string
	Children []Level
}

// Hierarchy is the ordered set of root levels. It is built once from
// configuration and never modified afterwards.
type Hierarchy []Level

// ParseHierarchy builds a hierarchy from a JSON (or JSONC) object such as
// {"area": {"line": {}}}. Member order is preserved.
func ParseHierarchy(data []byte) (Hierarchy, error) {
	node, err := parseEmbedded(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}
	return hierarchyFromNode(node)
}

// HierarchyFromYAML parses a hierarchy held in a configuration node, either
// as a native mapping or as a JSON string.
func HierarchyFromYAML(value *yaml.Node) (Hierarchy, error) {
	node, err := embeddedNode(value)
	if err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}
	return hierarchyFromNode(node)
}

// UnmarshalYAML accepts either a native mapping or a string holding JSON.
func (h *Hierarchy) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := HierarchyFromYAML(value)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func hierarchyFromNode(node *yaml.Node) (Hierarchy, error) {
	if node == nil {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("hierarchy must be an object, got %s", nodeKindName(node))
	}
	return Hierarchy(levelsFrom(node)), nil
}

func levelsFrom(node *yaml.Node) []Level {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	levels := make([]Level, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		levels = append(levels, Level{
			Name:     node.Content[i].Value,
			Children: levelsFrom(node.Content[i+1]),
		})
	}
	return levels
}

// Depth returns the number of levels on the longest branch.
func (h Hierarchy) Depth() int {
	max := 0
	for _, l := range h {
		if d := 1 + Hierarchy(l.Children).Depth(); d > max {
			max = d
		}
	}
	return max
}

// SplitPath splits a datapoint value into path segments. Empty segments,
// including those produced by leading or trailing separators, are dropped.
func SplitPath(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '/' })
}

// JoinKey extends a parent-path key with one segment.
func JoinKey(key, segment string) string {
	if key == "" {
		return segment
	}
	return key + PathSeparator + segment
}

// embeddedNode returns the mapping or sequence described by value. Fledge
// style configuration carries these as JSON text inside a string item.
func embeddedNode(value *yaml.Node) (*yaml.Node, error) {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!str" {
		return parseEmbedded(value.Value)
	}
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil, nil
	}
	return value, nil
}

func parseEmbedded(text string) (*yaml.Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(jsonc.ToJSON([]byte(text)), &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	return doc.Content[0], nil
}

func nodeKindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "object"
	case yaml.SequenceNode:
		return "array"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "unknown"
	}
}
