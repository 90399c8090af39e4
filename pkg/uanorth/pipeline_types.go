package uanorth

import (
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// Reading is one asset's datapoints at one instant. It is the unit that
// flows through the WAL, the queue and the sinks.
type Reading = domain.Reading

type (
	Datapoint = domain.Datapoint
	Timestamp = domain.Timestamp
	// Value is a datapoint value. Use the concrete kinds below to build one.
	Value      = domain.Value
	Integer    = domain.Integer
	Float      = domain.Float
	String     = domain.String
	FloatArray = domain.FloatArray
	Dict       = domain.Dict
	Hierarchy  = domain.Hierarchy
	Level      = domain.Level
)

// Destination selects where a control write is delivered.
type Destination = domain.Destination

const (
	DestinationBroadcast = domain.DestinationBroadcast
	DestinationService   = domain.DestinationService
	DestinationAsset     = domain.DestinationAsset
	DestinationScript    = domain.DestinationScript
)

// WriteFunc receives client writes on control nodes.
type WriteFunc = ports.WriteFunc

// Collector streams readings from any data source into the pipeline.
type Collector = ports.Collector

// ReadingQueue is the bounded in-memory queue between intake and projection.
type ReadingQueue = ports.ReadingQueue

// QueuedReading is an item buffered inside the queue.
type QueuedReading = ports.QueuedReading

// Transformer rewrites or drops readings before they reach the sinks.
type Transformer = ports.Transformer

// Sink consumes batches of readings. The OPC UA projection is always the
// first sink; others receive the same batches.
type Sink = ports.Sink

// NodeStore is the address space readings are projected into.
type NodeStore = ports.NodeStore

// NodeRef identifies a node inside a NodeStore.
type NodeRef = ports.NodeRef

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// WAL is the write-ahead log used for durable intake.
type WAL = ports.WAL

type (
	WALStats   = ports.WALStats
	WALEntryID = ports.WALEntryID
)

// NewReading is a convenience constructor stamping the reading with ts.
func NewReading(asset string, ts Timestamp, dps ...Datapoint) *Reading {
	return &Reading{Asset: asset, Timestamp: ts, Datapoints: dps}
}
