package observability

import (
	"context"
	"log/slog"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// LevelCritical sits above slog.LevelError for failures that lose data.
const LevelCritical = slog.Level(12)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the runtime metrics with reg and logs through logger.
// A nil reg uses the default registerer; a nil logger uses slog.Default.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricReadingsProjected: counter(ports.MetricReadingsProjected, "Readings projected onto the node tree."),
		ports.MetricAssets:            counter(ports.MetricAssets, "Assets that received their own nodes."),
		ports.MetricNodesCreated:      counter(ports.MetricNodesCreated, "Containers and variables created in the node store."),
		ports.MetricDatapointErrors:   counter(ports.MetricDatapointErrors, "Datapoints skipped because the node store failed."),
		ports.MetricControlWrites:     counter(ports.MetricControlWrites, "Control node writes forwarded to the write callback."),
		ports.MetricControlDropped:    counter(ports.MetricControlDropped, "Control node changes that could not be forwarded."),
		ports.MetricDLQ:               counter(ports.MetricDLQ, "Readings sent to the DLQ due to transform failures."),
		ports.MetricQueueDropped:      counter(ports.MetricQueueDropped, "Readings lost due to queue backpressure policies."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricQueueLength:   gauge(ports.MetricQueueLength, "Readings buffered in the in-memory queue."),
		ports.MetricWALSize:       gauge(ports.MetricWALSize, "Size of the reading WAL on disk."),
		ports.MetricPathCacheSize: gauge(ports.MetricPathCacheSize, "Entries in the parent path cache."),
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricSendLatency,
		Help:    "Time spent projecting one batch of readings.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	for _, c := range counters {
		reg.MustRegister(c)
	}
	for _, g := range gauges {
		reg.MustRegister(g)
	}
	reg.MustRegister(latency)

	return &PromObs{
		log:      logger,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			ports.MetricSendLatency: latency,
		},
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, attrs(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Log(context.Background(), LevelCritical, msg, append(attrs(fields), slog.Any("error", err))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, r *domain.Reading, err error) {
	p.IncCounter(ports.MetricDLQ, 1)
	if err == nil {
		return
	}
	asset := ""
	if r != nil {
		asset = r.Asset
	}
	p.log.Warn("reading_dlq", "id", uint64(id), "asset", asset, "error", err)
}

var _ ports.Observability = (*PromObs)(nil)
