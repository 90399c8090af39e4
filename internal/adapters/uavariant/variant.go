// Package uavariant converts between domain values and OPC UA variants.
package uavariant

import (
	"fmt"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

// ToVariant encodes a projectable value. Dictionaries and the kinds the
// tree does not represent are rejected.
func ToVariant(v domain.Value) (*ua.Variant, error) {
	switch val := v.(type) {
	case domain.Integer:
		return ua.NewVariant(int64(val))
	case domain.Float:
		return ua.NewVariant(float64(val))
	case domain.String:
		return ua.NewVariant(string(val))
	case domain.FloatArray:
		return ua.NewVariant([]float64(val))
	case domain.DateTime:
		return ua.NewVariant(val.Time())
	case domain.Buffer:
		return ua.NewVariant([]byte(val))
	case nil:
		return nil, fmt.Errorf("uavariant: nil value")
	default:
		return nil, fmt.Errorf("uavariant: %s has no variant encoding", v.Kind())
	}
}

// DataType returns the node id of the OPC UA data type used for v.
func DataType(v domain.Value) *ua.NodeID {
	switch v.(type) {
	case domain.Integer:
		return ua.NewNumericNodeID(0, id.Int64)
	case domain.Float, domain.FloatArray:
		return ua.NewNumericNodeID(0, id.Double)
	case domain.String:
		return ua.NewNumericNodeID(0, id.String)
	case domain.DateTime:
		return ua.NewNumericNodeID(0, id.DateTime)
	case domain.Buffer:
		return ua.NewNumericNodeID(0, id.ByteString)
	default:
		return ua.NewNumericNodeID(0, id.BaseDataType)
	}
}

// FromVariant decodes a variant written by a client.
func FromVariant(v *ua.Variant) domain.Value {
	if v == nil {
		return domain.Null{}
	}
	return fromAny(v.Value())
}

func fromAny(x any) domain.Value {
	switch val := x.(type) {
	case nil:
		return domain.Null{}
	case bool:
		if val {
			return domain.Integer(1)
		}
		return domain.Integer(0)
	case int8:
		return domain.Integer(val)
	case uint8:
		return domain.Integer(val)
	case int16:
		return domain.Integer(val)
	case uint16:
		return domain.Integer(val)
	case int32:
		return domain.Integer(val)
	case uint32:
		return domain.Integer(val)
	case int64:
		return domain.Integer(val)
	case uint64:
		return domain.Integer(int64(val))
	case float32:
		return domain.Float(val)
	case float64:
		return domain.Float(val)
	case string:
		return domain.String(val)
	case time.Time:
		return domain.DateTimeOf(val)
	case []byte:
		return domain.Buffer(val)
	case []float64:
		return domain.FloatArray(val)
	case []float32:
		out := make(domain.FloatArray, len(val))
		for i, f := range val {
			out[i] = float64(f)
		}
		return out
	case *ua.LocalizedText:
		if val == nil {
			return domain.Null{}
		}
		return domain.String(val.Text)
	default:
		return domain.String(fmt.Sprint(val))
	}
}

// DataValue wraps v with its source timestamp, as SetValue stores it.
func DataValue(v domain.Value, source time.Time) (*ua.DataValue, error) {
	variant, err := ToVariant(v)
	if err != nil {
		return nil, err
	}
	dv := &ua.DataValue{
		EncodingMask:    ua.DataValueValue,
		Value:           variant,
		ServerTimestamp: time.Now().UTC(),
	}
	dv.EncodingMask |= ua.DataValueServerTimestamp
	if !source.IsZero() {
		dv.SourceTimestamp = source.UTC()
		dv.EncodingMask |= ua.DataValueSourceTimestamp
	}
	return dv, nil
}
