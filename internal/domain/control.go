package domain

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Destination selects where a control write is delivered.
type Destination int

const (
	DestinationBroadcast Destination = iota
	DestinationService
	DestinationAsset
	DestinationScript
)

func (d Destination) String() string {
	switch d {
	case DestinationBroadcast:
		return "broadcast"
	case DestinationService:
		return "service"
	case DestinationAsset:
		return "asset"
	case DestinationScript:
		return "script"
	default:
		return fmt.Sprintf("destination(%d)", int(d))
	}
}

// Control node value types accepted in the control map.
const (
	ControlTypeInteger = "integer"
	ControlTypeFloat   = "float"
)

// ControlDefinition describes one externally writable node.
type ControlDefinition struct {
	Name        string
	Type        string
	Destination Destination
	Argument    string
}

// ControlMap is the parsed "controlMap" configuration item.
type ControlMap []ControlDefinition

// ParseControlMap parses the JSON (or JSONC) control map. Badly formed
// records are reported in the returned error and skipped; the well formed
// ones are still returned.
func ParseControlMap(data []byte) (ControlMap, error) {
	node, err := parseEmbedded(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse control map: %w", err)
	}
	return controlMapFromNode(node)
}

// ControlMapFromYAML parses a control map held in a configuration node,
// either as a native mapping or as a JSON string. Like ParseControlMap it
// returns the well formed records alongside the record level errors.
func ControlMapFromYAML(value *yaml.Node) (ControlMap, error) {
	node, err := embeddedNode(value)
	if err != nil {
		return nil, fmt.Errorf("parse control map: %w", err)
	}
	return controlMapFromNode(node)
}

// UnmarshalYAML accepts either a native mapping or a JSON string. Record
// level problems do not fail decoding; use ControlMapFromYAML to see them.
func (m *ControlMap) UnmarshalYAML(value *yaml.Node) error {
	node, err := embeddedNode(value)
	if err != nil {
		return fmt.Errorf("parse control map: %w", err)
	}
	parsed, _ := controlMapFromNode(node)
	*m = parsed
	return nil
}

func controlMapFromNode(node *yaml.Node) (ControlMap, error) {
	if node == nil {
		return nil, nil
	}
	nodes := mappingValue(node, "nodes")
	if nodes == nil || nodes.Kind != yaml.SequenceNode {
		return nil, errors.New("missing the nodes element in the control map")
	}

	var (
		defs ControlMap
		errs []error
	)
	for i, rec := range nodes.Content {
		name := stringMember(rec, "name")
		typ := stringMember(rec, "type")
		if name == "" || typ == "" {
			errs = append(errs, fmt.Errorf("control map entry %d: both node name and type must be provided", i))
			continue
		}
		def := ControlDefinition{Name: name, Type: typ}
		if script := stringMember(rec, "script"); script != "" {
			def.Destination, def.Argument = DestinationScript, script
		} else if asset := stringMember(rec, "asset"); asset != "" {
			def.Destination, def.Argument = DestinationAsset, asset
		} else if service := stringMember(rec, "service"); service != "" {
			def.Destination, def.Argument = DestinationService, service
		}
		defs = append(defs, def)
	}
	return defs, errors.Join(errs...)
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// stringMember returns the member only when it is a string; other JSON types
// are ignored.
func stringMember(node *yaml.Node, key string) string {
	v := mappingValue(node, key)
	if v == nil || v.Kind != yaml.ScalarNode || v.Tag != "!!str" {
		return ""
	}
	return v.Value
}
