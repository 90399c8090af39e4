// Package uanorth projects readings onto an OPC UA address space and routes
// client writes on control nodes back to the caller.
package uanorth

import (
	"log/slog"

	base "github.com/fledge-iot/fledge-north-opcua/pkg/uanorth"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull         = base.ErrQueueFull
	ErrWALFull           = base.ErrWALFull
	ErrNotStarted        = base.ErrNotStarted
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/fledge-iot/fledge-north-opcua directly.
type (
	Config           = base.Config
	ServerConfig     = base.ServerConfig
	ControlConfig    = base.ControlConfig
	SourceConfig     = base.SourceConfig
	SourceNodeConfig = base.SourceNodeConfig
	Policy           = base.Policy
	WALConfig        = base.WALConfig
	MetricsConfig    = base.MetricsConfig
	ArchiveConfig    = base.ArchiveConfig
	LogConfig        = base.LogConfig
	Runtime          = base.Runtime
	Option           = base.Option
	Stats            = base.Stats
	Reading          = base.Reading
	Datapoint        = base.Datapoint
	Timestamp        = base.Timestamp
	Value            = base.Value
	Integer          = base.Integer
	Float            = base.Float
	String           = base.String
	FloatArray       = base.FloatArray
	Dict             = base.Dict
	Hierarchy        = base.Hierarchy
	Level            = base.Level
	Destination      = base.Destination
	WriteFunc        = base.WriteFunc
	ReadingBatchSink = base.ReadingBatchSink
	Collector        = base.Collector
	Sink             = base.Sink
	Transformer      = base.Transformer
	ReadingQueue     = base.ReadingQueue
	QueuedReading    = base.QueuedReading
	NodeStore        = base.NodeStore
	NodeRef          = base.NodeRef
	WAL              = base.WAL
	Observability    = base.Observability
	Field            = base.Field
	WALEntryID       = base.WALEntryID
	WALStats         = base.WALStats
)

const (
	DestinationBroadcast = base.DestinationBroadcast
	DestinationService   = base.DestinationService
	DestinationAsset     = base.DestinationAsset
	DestinationScript    = base.DestinationScript
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(data []byte) (*Config, error) {
	return base.ParseConfig(data)
}

func NewReading(asset string, ts Timestamp, dps ...Datapoint) *Reading {
	return base.NewReading(asset, ts, dps...)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func Load(path string, opts ...Option) (*Runtime, error) {
	return base.Load(path, opts...)
}

func WithNodeStore(s NodeStore) Option {
	return base.WithNodeStore(s)
}

func WithCollector(col Collector) Option {
	return base.WithCollector(col)
}

func WithSink(s Sink) Option {
	return base.WithSink(s)
}

func WithTransformer(tr Transformer) Option {
	return base.WithTransformer(tr)
}

func WithWAL(w WAL) Option {
	return base.WithWAL(w)
}

func WithReadingQueue(q ReadingQueue) Option {
	return base.WithReadingQueue(q)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithControlWriter(w WriteFunc) Option {
	return base.WithControlWriter(w)
}

func WithLogger(l *slog.Logger) Option {
	return base.WithLogger(l)
}

// Sink adapters.
func NewCallbackSink(name string, fn ReadingBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []*Reading, func()) {
	return base.NewChannelSink(name, buffer)
}
