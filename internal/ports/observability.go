package ports

import "github.com/fledge-iot/fledge-north-opcua/internal/domain"

// Metric names understood by the Observability adapters.
const (
	MetricReadingsProjected = "uanorth_readings_projected_total"
	MetricAssets            = "uanorth_assets_total"
	MetricNodesCreated      = "uanorth_nodes_created_total"
	MetricDatapointErrors   = "uanorth_datapoint_errors_total"
	MetricControlWrites     = "uanorth_control_writes_total"
	MetricControlDropped    = "uanorth_control_events_dropped_total"
	MetricDLQ               = "uanorth_dlq_total"
	MetricQueueDropped      = "uanorth_queue_dropped_total"
	MetricQueueLength       = "uanorth_queue_length"
	MetricWALSize           = "uanorth_wal_size_bytes"
	MetricPathCacheSize     = "uanorth_path_cache_size"
	MetricSendLatency       = "uanorth_send_latency_seconds"
)

type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDLQ(id WALEntryID, r *domain.Reading, err error)
}

type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }
