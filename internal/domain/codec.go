package domain

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// WireValue is the self-describing encoding of a Value used for the WAL and
// the archive sink. Exactly the field matching Type is populated.
type WireValue struct {
	Type   string          `json:"type" cbor:"t"`
	Int    int64           `json:"int,omitempty" cbor:"i,omitempty"`
	Float  float64         `json:"float,omitempty" cbor:"f,omitempty"`
	Str    string          `json:"string,omitempty" cbor:"s,omitempty"`
	Floats []float64       `json:"floats,omitempty" cbor:"fa,omitempty"`
	Rows   [][]float64     `json:"rows,omitempty" cbor:"r,omitempty"`
	Bytes  []byte          `json:"bytes,omitempty" cbor:"b,omitempty"`
	Items  []WireValue     `json:"items,omitempty" cbor:"l,omitempty"`
	Dict   []WireDatapoint `json:"dict,omitempty" cbor:"d,omitempty"`
}

// WireDatapoint is the encoding of a Datapoint.
type WireDatapoint struct {
	Name  string    `json:"name" cbor:"n"`
	Value WireValue `json:"value" cbor:"v"`
}

// WireReading is the encoding of a Reading. Timestamp is in Unix microseconds.
type WireReading struct {
	Asset      string          `json:"asset" cbor:"a"`
	Timestamp  int64           `json:"ts" cbor:"ts"`
	Datapoints []WireDatapoint `json:"datapoints" cbor:"dp"`
}

// EncodeReading converts r to its wire form.
func EncodeReading(r *Reading) WireReading {
	return WireReading{
		Asset:      r.Asset,
		Timestamp:  r.Timestamp.Sec*1_000_000 + r.Timestamp.Usec,
		Datapoints: EncodeDatapoints(r.Datapoints),
	}
}

// DecodeReading converts a wire reading back to a Reading.
func DecodeReading(w WireReading) (*Reading, error) {
	dps, err := DecodeDatapoints(w.Datapoints)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", w.Asset, err)
	}
	return &Reading{
		Asset:      w.Asset,
		Datapoints: dps,
		Timestamp:  Timestamp{Sec: w.Timestamp / 1_000_000, Usec: w.Timestamp % 1_000_000},
	}, nil
}

// EncodeDatapoints converts dps to their wire form.
func EncodeDatapoints(dps []Datapoint) []WireDatapoint {
	out := make([]WireDatapoint, len(dps))
	for i, dp := range dps {
		out[i] = WireDatapoint{Name: dp.Name, Value: EncodeValue(dp.Value)}
	}
	return out
}

// DecodeDatapoints converts wire datapoints back to datapoints.
func DecodeDatapoints(in []WireDatapoint) ([]Datapoint, error) {
	out := make([]Datapoint, len(in))
	for i, w := range in {
		v, err := DecodeValue(w.Value)
		if err != nil {
			return nil, fmt.Errorf("datapoint %s: %w", w.Name, err)
		}
		out[i] = Datapoint{Name: w.Name, Value: v}
	}
	return out, nil
}

// EncodeValue converts v to its wire form.
func EncodeValue(v Value) WireValue {
	switch val := v.(type) {
	case Integer:
		return WireValue{Type: KindInteger.String(), Int: int64(val)}
	case Float:
		return WireValue{Type: KindFloat.String(), Float: float64(val)}
	case String:
		return WireValue{Type: KindString.String(), Str: string(val)}
	case FloatArray:
		return WireValue{Type: KindFloatArray.String(), Floats: []float64(val)}
	case Array2D:
		return WireValue{Type: KindArray2D.String(), Rows: [][]float64(val)}
	case Buffer:
		return WireValue{Type: KindBuffer.String(), Bytes: []byte(val)}
	case DateTime:
		return WireValue{Type: KindDateTime.String(), Int: int64(val)}
	case List:
		items := make([]WireValue, len(val))
		for i, item := range val {
			items[i] = EncodeValue(item)
		}
		return WireValue{Type: KindList.String(), Items: items}
	case Dict:
		return WireValue{Type: KindDict.String(), Dict: EncodeDatapoints(val)}
	default:
		return WireValue{Type: KindNull.String()}
	}
}

// DecodeValue converts a wire value back to a Value.
func DecodeValue(w WireValue) (Value, error) {
	switch w.Type {
	case KindInteger.String():
		return Integer(w.Int), nil
	case KindFloat.String():
		return Float(w.Float), nil
	case KindString.String():
		return String(w.Str), nil
	case KindFloatArray.String():
		return FloatArray(w.Floats), nil
	case KindArray2D.String():
		return Array2D(w.Rows), nil
	case KindBuffer.String():
		return Buffer(w.Bytes), nil
	case KindDateTime.String():
		return DateTime(w.Int), nil
	case KindNull.String():
		return Null{}, nil
	case KindList.String():
		items := make(List, len(w.Items))
		for i, item := range w.Items {
			v, err := DecodeValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case KindDict.String():
		dps, err := DecodeDatapoints(w.Dict)
		if err != nil {
			return nil, err
		}
		return Dict(dps), nil
	default:
		return nil, fmt.Errorf("unknown value type %q", w.Type)
	}
}

// ParseReadings decodes readings in the JSON shape Fledge uses on its north
// interface:
//
//	[{"asset_code": "pump", "user_ts": "2024-05-01 10:00:00.000000",
//	  "reading": {"temp": 21.5, "motor": {"speed": 1200}}}]
//
// Datapoint order is preserved. "asset"/"timestamp"/"readings" are accepted
// as aliases.
func ParseReadings(data []byte) ([]*Reading, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse readings: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	items := []*yaml.Node{root}
	if root.Kind == yaml.SequenceNode {
		items = root.Content
	}

	out := make([]*Reading, 0, len(items))
	for i, item := range items {
		r, err := readingFromNode(item)
		if err != nil {
			return nil, fmt.Errorf("parse readings: entry %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func readingFromNode(n *yaml.Node) (*Reading, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("reading must be an object, got %s", nodeKindName(n))
	}
	r := &Reading{Asset: firstString(n, "asset_code", "asset")}
	if r.Asset == "" {
		return nil, fmt.Errorf("missing asset name")
	}

	if ts := firstMember(n, "user_ts", "timestamp"); ts != nil {
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		r.Timestamp = TimestampOf(t)
	}

	body := firstMember(n, "reading", "readings")
	if body == nil || body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("asset %s: missing reading object", r.Asset)
	}
	dict, err := valueFromNode(body)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", r.Asset, err)
	}
	r.Datapoints = []Datapoint(dict.(Dict))
	return r, nil
}

func valueFromNode(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.MappingNode:
		d := make(Dict, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := valueFromNode(n.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n.Content[i].Value, err)
			}
			d = append(d, Datapoint{Name: n.Content[i].Value, Value: v})
		}
		return d, nil
	case yaml.SequenceNode:
		return sequenceValue(n)
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!int":
			i, err := strconv.ParseInt(n.Value, 0, 64)
			if err != nil {
				return nil, err
			}
			return Integer(i), nil
		case "!!float":
			f, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				return nil, err
			}
			return Float(f), nil
		case "!!null":
			return Null{}, nil
		default:
			return String(n.Value), nil
		}
	default:
		return nil, fmt.Errorf("unsupported node %s", nodeKindName(n))
	}
}

// sequenceValue maps numeric arrays to FloatArray, arrays of numeric arrays
// to Array2D and anything else to List.
func sequenceValue(n *yaml.Node) (Value, error) {
	items := make(List, 0, len(n.Content))
	for _, c := range n.Content {
		v, err := valueFromNode(c)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}

	if floats, ok := numericArray(items); ok {
		return floats, nil
	}
	rows := make(Array2D, 0, len(items))
	for _, item := range items {
		row, ok := item.(FloatArray)
		if !ok {
			return items, nil
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return items, nil
	}
	return rows, nil
}

func numericArray(items List) (FloatArray, bool) {
	if len(items) == 0 {
		return nil, false
	}
	out := make(FloatArray, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case Integer:
			out[i] = float64(v)
		case Float:
			out[i] = float64(v)
		default:
			return nil, false
		}
	}
	return out, true
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	time.RFC3339Nano,
}

func parseTimestamp(n *yaml.Node) (time.Time, error) {
	if n.Tag == "!!int" || n.Tag == "!!float" {
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return time.Time{}, err
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, n.Value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", n.Value)
}

func firstMember(n *yaml.Node, keys ...string) *yaml.Node {
	for _, k := range keys {
		if v := mappingValue(n, k); v != nil {
			return v
		}
	}
	return nil
}

func firstString(n *yaml.Node, keys ...string) string {
	for _, k := range keys {
		if v := stringMember(n, k); v != "" {
			return v
		}
	}
	return ""
}
