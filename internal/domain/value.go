package domain

import (
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindString
	KindFloatArray
	KindDict
	KindList
	KindArray2D
	KindBuffer
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindFloatArray:
		return "float_array"
	case KindDict:
		return "dict"
	case KindList:
		return "list"
	case KindArray2D:
		return "array_2d"
	case KindBuffer:
		return "buffer"
	case KindDateTime:
		return "datetime"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is the data carried by a datapoint. The set of implementations is
// closed; consumers switch on the concrete type and route anything they do
// not handle to a default arm.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	// Integer is a signed 64-bit scalar.
	Integer int64
	// Float is a 64-bit floating point scalar.
	Float float64
	// String is a text scalar.
	String string
	// FloatArray is a flat sequence of floats.
	FloatArray []float64
	// Dict is an ordered set of named child values.
	Dict []Datapoint
	// List is a sequence of arbitrary values. It is accepted on input but not
	// projected.
	List []Value
	// Array2D is a two dimensional float array. Accepted, not projected.
	Array2D [][]float64
	// Buffer is an opaque byte payload. Accepted, not projected.
	Buffer []byte
	// DateTime is an OPC UA DateTime: 100ns ticks since 1601-01-01 UTC.
	DateTime int64
	// Null carries no value.
	Null struct{}
)

func (Integer) Kind() Kind    { return KindInteger }
func (Float) Kind() Kind      { return KindFloat }
func (String) Kind() Kind     { return KindString }
func (FloatArray) Kind() Kind { return KindFloatArray }
func (Dict) Kind() Kind       { return KindDict }
func (List) Kind() Kind       { return KindList }
func (Array2D) Kind() Kind    { return KindArray2D }
func (Buffer) Kind() Kind     { return KindBuffer }
func (DateTime) Kind() Kind   { return KindDateTime }
func (Null) Kind() Kind       { return KindNull }

func (Integer) isValue()    {}
func (Float) isValue()      {}
func (String) isValue()     {}
func (FloatArray) isValue() {}
func (Dict) isValue()       {}
func (List) isValue()       {}
func (Array2D) isValue()    {}
func (Buffer) isValue()     {}
func (DateTime) isValue()   {}
func (Null) isValue()       {}

// Get returns the entry named name.
func (d Dict) Get(name string) (Value, bool) {
	for _, dp := range d {
		if dp.Name == name {
			return dp.Value, true
		}
	}
	return nil, false
}

// IsScalar reports whether v is projected as a single variable node.
func IsScalar(v Value) bool {
	switch v.(type) {
	case Integer, Float, String, FloatArray:
		return true
	default:
		return false
	}
}

// Render returns the plain string form of v. Strings are returned verbatim,
// which is what the hierarchy resolver splits into path segments.
func Render(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case Integer:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case String:
		return string(val)
	case FloatArray:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Array2D:
		rows := make([]string, len(val))
		for i, row := range val {
			rows[i] = Render(FloatArray(row))
		}
		return "[" + strings.Join(rows, ", ") + "]"
	case List:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Render(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Dict:
		parts := make([]string, len(val))
		for i, dp := range val {
			parts[i] = strconv.Quote(dp.Name) + " : " + Render(dp.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Buffer:
		return "buffer(" + strconv.Itoa(len(val)) + ")"
	case DateTime:
		return FormatDateTime(val)
	default:
		return ""
	}
}
