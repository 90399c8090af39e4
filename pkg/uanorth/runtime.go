package uanorth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/observability"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/opcua"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/queue"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/sink"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/uaserver"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/wal"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/control"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/pipeline"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/projection"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

var (
	// ErrQueueFull indicates the queue rejected a reading according to policy.
	ErrQueueFull = pipeline.ErrQueueFull
	// ErrWALFull indicates the WAL is at capacity and OnWALFull is "drop".
	ErrWALFull = pipeline.ErrWALFull

	ErrNotStarted = errors.New("uanorth: runtime not started")
)

// Option customizes the dependencies used by Runtime.
type Option func(*overrides)

type overrides struct {
	store       NodeStore
	collector   Collector
	sinks       []Sink
	transformer Transformer
	wal         WAL
	queue       ReadingQueue
	obs         Observability
	logger      *slog.Logger
	writer      WriteFunc
}

// WithNodeStore replaces the embedded OPC UA server, e.g. with an in-memory
// store for tests or offline checks.
func WithNodeStore(s NodeStore) Option {
	return func(o *overrides) { o.store = s }
}

// WithCollector injects a reading source in place of the configured OPC UA
// client.
func WithCollector(col Collector) Option {
	return func(o *overrides) { o.collector = col }
}

// WithSink adds a sink that receives every projected batch.
func WithSink(s Sink) Option {
	return func(o *overrides) { o.sinks = append(o.sinks, s) }
}

// WithTransformer runs tr on every reading before the sinks see it.
func WithTransformer(tr Transformer) Option {
	return func(o *overrides) { o.transformer = tr }
}

// WithWAL lets callers bring their own WAL implementation.
func WithWAL(w WAL) Option {
	return func(o *overrides) { o.wal = w }
}

// WithReadingQueue injects a custom queue implementation.
func WithReadingQueue(q ReadingQueue) Option {
	return func(o *overrides) { o.queue = q }
}

// WithObservability plugs in a custom logging and metrics backend.
func WithObservability(obs Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// WithLogger sets the slog logger used by the default observability backend.
func WithLogger(l *slog.Logger) Option {
	return func(o *overrides) { o.logger = l }
}

// WithControlWriter registers the control write callback up front. See
// Runtime.RegisterControl.
func WithControlWriter(w WriteFunc) Option {
	return func(o *overrides) { o.writer = w }
}

// Stats is a point-in-time view of the runtime.
type Stats struct {
	Assets      int
	CacheSize   int
	CacheHits   uint64
	CacheMisses uint64
	QueueLen    int
	WAL         WALStats
}

// Runtime hosts the node store and wires intake → WAL → queue → projection
// and any extra sinks, plus the control binding and the metrics endpoint.
type Runtime struct {
	cfg    *Config
	policy Policy
	obs    Observability
	reg    *prometheus.Registry

	store     NodeStore
	engine    *projection.Engine
	binding   *control.Binding
	wal       WAL
	queue     ReadingQueue
	intake    *pipeline.Intake
	collector Collector
	tr        Transformer
	sinks     []Sink
	archive   *sink.ArchiveSink
	db        *sql.DB

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	ingestDone chan struct{}
	gaugeStop  chan struct{}
	metricsSrv *http.Server
}

// NewRuntime builds the default adapters (OPC UA server store, file WAL,
// in-memory queue, Prometheus observability, optional OPC UA collector and
// Postgres archive). Options override any of them.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs := o.obs
	if obs == nil {
		logger := o.logger
		if logger == nil {
			logger = observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		}
		obs = observability.NewPromObs(reg, logger)
	}
	for _, n := range cfg.Notices {
		obs.LogWarn("config_defaulted", ports.F("notice", n))
	}

	store := o.store
	if store == nil {
		srv, err := uaserver.New(uaserver.Config{
			URL:          cfg.Server.URL,
			Namespace:    cfg.Server.Namespace,
			Name:         cfg.Server.Name,
			URI:          cfg.Server.URI,
			PollInterval: cfg.Server.PollInterval,
		}, obs)
		if err != nil {
			return nil, err
		}
		store = srv
	}

	rt := &Runtime{
		cfg:    cfg,
		policy: cfg.Policy,
		obs:    obs,
		reg:    reg,
		store:  store,
		engine: projection.New(store, obs, projection.Options{
			Hierarchy:        cfg.Hierarchy,
			RootName:         cfg.Server.Root,
			IncludeAssetName: cfg.Server.IncludeAsset(),
			ParseAssetName:   cfg.Server.ParseAssetName,
		}),
		binding:   control.New(cfg.Control.Map, store, obs),
		wal:       o.wal,
		queue:     o.queue,
		collector: o.collector,
		tr:        o.transformer,
	}
	rt.binding.SetWriter(o.writer)

	if rt.wal == nil {
		var walOpts []wal.Option
		if cfg.WAL.Sync {
			walOpts = append(walOpts, wal.WithSync())
		}
		w, err := wal.NewFileWAL(cfg.WAL.Dir, walOpts...)
		if err != nil {
			return nil, err
		}
		rt.wal = w
	}
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}
	rt.intake = pipeline.NewIntake(rt.wal, rt.queue, rt.policy, obs)

	if rt.collector == nil && cfg.SourceEnabled() {
		col, err := opcua.NewCollector(cfg.Source, obs)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		rt.collector = col
	}

	rt.sinks = append(rt.sinks, rt.engine)
	if cfg.Archive.Enabled() {
		db, err := sql.Open("postgres", cfg.Archive.DSN)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		a, err := sink.NewArchiveSink(db, cfg.Archive.Table)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("archive: %w", err)
		}
		rt.db, rt.archive = db, a
		rt.sinks = append(rt.sinks, a)
	}
	for _, s := range o.sinks {
		if s != nil {
			rt.sinks = append(rt.sinks, s)
		}
	}
	return rt, nil
}

// Start opens the node store, builds the object and control roots, replays
// the WAL and launches the pipelines and the metrics server. It returns once
// everything is running. On error the node store is stopped again, so Start
// may be retried.
func (r *Runtime) Start() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("uanorth: runtime already started")
	}

	if lc, ok := r.store.(ports.Lifecycle); ok {
		if err := lc.Start(); err != nil {
			return err
		}
		defer func() {
			if err == nil {
				return
			}
			if stopErr := lc.Stop(); stopErr != nil {
				r.obs.LogError("node_store_stop_failed", stopErr)
			}
		}()
	}
	if err := r.engine.Open(); err != nil {
		return err
	}
	if err := r.binding.Setup(r.store.Root(), r.cfg.Control.Root); err != nil {
		return err
	}
	if r.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := r.archive.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.ingestDone = make(chan struct{})
	go func() {
		defer close(r.ingestDone)
		pipeline.RunIngestPipeline(ctx, r.wal, r.queue, r.tr, r.sinks, r.policy, r.obs)
	}()

	if _, err := r.intake.Replay(ctx); err != nil {
		r.obs.LogError("wal_replay_failed", err)
	}
	if r.collector != nil {
		if err := pipeline.RunEdgePipeline(ctx, r.collector, r.intake, r.policy, r.obs); err != nil {
			cancel()
			<-r.ingestDone
			return fmt.Errorf("start collector: %w", err)
		}
	}

	r.startMetrics()
	r.started = true
	r.obs.LogInfo("runtime_started",
		ports.F("server", r.cfg.Server.URL),
		ports.F("sinks", len(r.sinks)),
		ports.F("controls", len(r.binding.Controls())),
	)
	return nil
}

// Load reads the configuration file at path and builds a Runtime from it.
func Load(path string, opts ...Option) (*Runtime, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, opts...)
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Send accepts a batch of readings for projection and returns how many were
// accepted. Accepted readings are durable in the WAL.
func (r *Runtime) Send(readings []*Reading) int {
	n := 0
	for _, rd := range readings {
		if rd == nil {
			continue
		}
		if err := r.Publish(context.Background(), rd); err != nil {
			r.obs.LogWarn("reading_rejected", ports.F("asset", rd.Asset), ports.F("error", err.Error()))
			continue
		}
		n++
	}
	return n
}

// Publish accepts one reading, honouring the WAL and queue policies.
func (r *Runtime) Publish(ctx context.Context, rd *Reading) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return r.intake.Accept(ctx, rd)
}

// RegisterControl installs the callback client writes on control nodes are
// forwarded to. It may be called at any time; nil disables forwarding.
func (r *Runtime) RegisterControl(w WriteFunc) {
	r.binding.SetWriter(w)
}

// Stats reports projection, queue and WAL counters.
func (r *Runtime) Stats() Stats {
	cs := r.engine.CacheStats()
	return Stats{
		Assets:      r.engine.Assets(),
		CacheSize:   cs.Size,
		CacheHits:   cs.Hits,
		CacheMisses: cs.Misses,
		QueueLen:    r.queue.Len(),
		WAL:         r.wal.Stats(),
	}
}

// Asset returns the node an asset was projected to.
func (r *Runtime) Asset(name string) (NodeRef, bool) {
	return r.engine.Asset(name)
}

// Shutdown stops the collector and the ingest loop, then releases the node
// store, the WAL and the database. Readings still queued stay in the WAL and
// are replayed on the next Start.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.collector != nil && r.started {
		if err := r.collector.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.cancel != nil {
		r.cancel()
		select {
		case <-r.ingestDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		r.cancel = nil
	}
	if r.gaugeStop != nil {
		close(r.gaugeStop)
		r.gaugeStop = nil
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
	}
	if lc, ok := r.store.(ports.Lifecycle); ok && r.started {
		if err := lc.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.wal.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.started = false
	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	r.gaugeStop = make(chan struct{})
	go r.recordGauges(r.gaugeStop, time.Second)

	if r.cfg.Metrics.Addr == "-" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err, ports.F("addr", srv.Addr))
		}
	}()
}

func (r *Runtime) recordGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.obs.SetGauge(ports.MetricWALSize, float64(r.wal.Stats().SizeBytes))
			r.obs.SetGauge(ports.MetricQueueLength, float64(r.queue.Len()))
			r.obs.SetGauge(ports.MetricPathCacheSize, float64(r.engine.CacheStats().Size))
		}
	}
}
