// Package projection maps readings onto the node tree of a NodeStore.
//
// The first reading of an asset creates its nodes under the container chosen
// by the hierarchy; later readings of the same asset update those nodes in
// place and add fields that were not seen before.
package projection

import (
	"fmt"
	"sync"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// SinkName is the name the engine reports as a pipeline sink.
const SinkName = "opcua"

type Options struct {
	Hierarchy domain.Hierarchy
	// RootName, when set, is a container created under the store root that
	// holds every projected node.
	RootName string
	// IncludeAssetName creates a container per asset. When false the
	// datapoints are added directly to the resolved parent.
	IncludeAssetName bool
	// ParseAssetName treats "/" separated asset names as the leading part of
	// the node path.
	ParseAssetName bool
}

type Engine struct {
	mu sync.Mutex

	store ports.NodeStore
	obs   ports.Observability

	hierarchy      domain.Hierarchy
	rootName       string
	includeAsset   bool
	parseAssetName bool

	root    ports.NodeRef
	assets  map[string]ports.NodeRef
	parents *PathCache
	warned  map[domain.Kind]struct{}
}

func New(store ports.NodeStore, obs ports.Observability, opts Options) *Engine {
	return &Engine{
		store:          store,
		obs:            obs,
		hierarchy:      opts.Hierarchy,
		rootName:       opts.RootName,
		includeAsset:   opts.IncludeAssetName,
		parseAssetName: opts.ParseAssetName,
		assets:         make(map[string]ports.NodeRef),
		parents:        NewPathCache(),
		warned:         make(map[domain.Kind]struct{}),
	}
}

// Open creates the object root. Send opens the engine on first use, so
// calling Open is only needed to surface the error early.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openLocked()
}

func (e *Engine) openLocked() error {
	if !e.root.IsZero() {
		return nil
	}
	root := e.store.Root()
	if e.rootName != "" {
		created, err := e.store.CreateContainer(root, e.rootName, e.rootName)
		if err != nil {
			return fmt.Errorf("create object root %q: %w", e.rootName, err)
		}
		root = created
	}
	e.root = root
	return nil
}

// Root returns the container projected nodes descend from. It is zero until
// the engine is opened.
func (e *Engine) Root() ports.NodeRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root
}

// Send projects a batch of readings and returns how many were processed.
// Failures are logged per datapoint and never stop the batch.
func (e *Engine) Send(readings []*domain.Reading) int {
	n, err := e.send(readings)
	if err != nil {
		e.obs.LogError("projection_open_failed", err)
	}
	return n
}

func (e *Engine) send(readings []*domain.Reading) (int, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.openLocked(); err != nil {
		return 0, err
	}

	n := 0
	for _, r := range readings {
		if r == nil {
			continue
		}
		if _, known := e.assets[r.Asset]; known {
			e.updateAsset(r)
		} else {
			e.addAsset(r)
		}
		n++
	}

	e.obs.IncCounter(ports.MetricReadingsProjected, float64(n))
	e.obs.ObserveLatency(ports.MetricSendLatency, time.Since(start).Seconds())
	return n, nil
}

// WriteBatch lets the engine act as a pipeline sink. Only a failure to open
// the object root is returned, so the batch stays in the WAL.
func (e *Engine) WriteBatch(readings []*domain.Reading) error {
	_, err := e.send(readings)
	return err
}

func (e *Engine) Name() string { return SinkName }

// AddAsset creates the nodes for a reading whose asset has not been seen.
func (e *Engine) AddAsset(r *domain.Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		e.obs.LogError("projection_open_failed", err)
		return
	}
	e.addAsset(r)
}

// UpdateAsset refreshes the nodes of a known asset. Readings of unknown
// assets are ignored.
func (e *Engine) UpdateAsset(r *domain.Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateAsset(r)
}

func (e *Engine) addAsset(r *domain.Reading) {
	parent, name, err := e.resolveParent(r)
	if err != nil {
		e.obs.LogError("resolve_parent_failed", err, ports.F("asset", r.Asset))
		return
	}

	node := parent
	if e.includeAsset {
		node, err = e.store.CreateContainer(parent, r.Asset, name)
		if err != nil {
			e.obs.LogError("asset_create_failed", err, ports.F("asset", r.Asset))
			return
		}
		e.obs.IncCounter(ports.MetricNodesCreated, 1)
	}
	e.obs.LogDebug("asset_added",
		ports.F("asset", r.Asset),
		ports.F("node", node.String()),
		ports.F("parent", parent.String()),
	)

	ts := r.Timestamp.Time()
	for _, dp := range r.Datapoints {
		e.addDatapoint(r.Asset, node, dp.Name, dp.Value, ts)
	}
	e.assets[r.Asset] = node
	e.obs.IncCounter(ports.MetricAssets, 1)
}

func (e *Engine) updateAsset(r *domain.Reading) {
	node, ok := e.assets[r.Asset]
	if !ok {
		return
	}
	ts := r.Timestamp.Time()
	for _, dp := range r.Datapoints {
		e.updateDatapoint(r.Asset, node, dp.Name, dp.Value, ts, true)
	}
}

// Asset returns the node registered for an asset.
func (e *Engine) Asset(name string) (ports.NodeRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, ok := e.assets[name]
	return ref, ok
}

// Assets returns the number of registered assets.
func (e *Engine) Assets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.assets)
}

func (e *Engine) CacheStats() CacheStats { return e.parents.Stats() }

// warnUnsupported logs a kind the tree cannot represent, once per kind.
func (e *Engine) warnUnsupported(asset, field string, kind domain.Kind) {
	if _, seen := e.warned[kind]; seen {
		return
	}
	e.warned[kind] = struct{}{}
	e.obs.LogWarn("unsupported_datapoint_type",
		ports.F("asset", asset),
		ports.F("datapoint", field),
		ports.F("type", kind.String()),
	)
}

var _ ports.Sink = (*Engine)(nil)
