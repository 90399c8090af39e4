package projection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/memstore"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

type logEvent struct {
	level  string
	msg    string
	err    error
	fields map[string]any
}

type recordingObs struct {
	mu       sync.Mutex
	events   []logEvent
	counters map[string]float64
	gauges   map[string]float64
}

func newRecordingObs() *recordingObs {
	return &recordingObs{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (o *recordingObs) record(level, msg string, err error, fields []ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	o.events = append(o.events, logEvent{level: level, msg: msg, err: err, fields: m})
}

func (o *recordingObs) LogDebug(msg string, fields ...ports.Field) { o.record("debug", msg, nil, fields) }
func (o *recordingObs) LogInfo(msg string, fields ...ports.Field)  { o.record("info", msg, nil, fields) }
func (o *recordingObs) LogWarn(msg string, fields ...ports.Field)  { o.record("warn", msg, nil, fields) }
func (o *recordingObs) LogError(msg string, err error, fields ...ports.Field) {
	o.record("error", msg, err, fields)
}
func (o *recordingObs) LogCritical(msg string, err error, fields ...ports.Field) {
	o.record("critical", msg, err, fields)
}

func (o *recordingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	o.counters[name] += v
	o.mu.Unlock()
}

func (o *recordingObs) ObserveLatency(string, float64) {}

func (o *recordingObs) SetGauge(name string, v float64) {
	o.mu.Lock()
	o.gauges[name] = v
	o.mu.Unlock()
}

func (o *recordingObs) RecordDLQ(ports.WALEntryID, *domain.Reading, error) {}

func (o *recordingObs) find(level, msg string) []logEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []logEvent
	for _, e := range o.events {
		if e.level == level && e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (o *recordingObs) count(level string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.level == level {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")

// failingStore fails selected operations of an otherwise working store.
type failingStore struct {
	*memstore.Store
	failVariable   string
	failContainers bool
}

func (f *failingStore) CreateVariable(parent ports.NodeRef, name string, value domain.Value) (ports.NodeRef, error) {
	if name == f.failVariable {
		return ports.NodeRef{}, errBoom
	}
	return f.Store.CreateVariable(parent, name, value)
}

func (f *failingStore) CreateContainer(parent ports.NodeRef, key, name string) (ports.NodeRef, error) {
	if f.failContainers {
		return ports.NodeRef{}, errBoom
	}
	return f.Store.CreateContainer(parent, key, name)
}

func mustHierarchy(t *testing.T, text string) domain.Hierarchy {
	t.Helper()
	h, err := domain.ParseHierarchy([]byte(text))
	require.NoError(t, err)
	return h
}

func reading(asset string, at time.Time, dps ...domain.Datapoint) *domain.Reading {
	return &domain.Reading{Asset: asset, Datapoints: dps, Timestamp: domain.TimestampOf(at)}
}

func dp(name string, v domain.Value) domain.Datapoint {
	return domain.Datapoint{Name: name, Value: v}
}

func valueAt(t *testing.T, s *memstore.Store, path ...string) (domain.Value, time.Time) {
	t.Helper()
	ref, ok := s.Find(path...)
	require.Truef(t, ok, "no node at %v", path)
	v, source, err := s.Value(ref)
	require.NoError(t, err)
	return v, source
}

type treeLine struct {
	depth int
	name  string
	value domain.Value
}

func snapshot(s *memstore.Store) []treeLine {
	var out []treeLine
	s.Walk(func(n memstore.NodeInfo) {
		out = append(out, treeLine{depth: n.Depth, name: n.Name, value: n.Value})
	})
	return out
}
