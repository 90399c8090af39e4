package uanorth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/memstore"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Hierarchy: Hierarchy{{Name: "area"}},
		Control: ControlConfig{Map: domain.ControlMap{
			{Name: "speed", Type: domain.ControlTypeInteger, Destination: DestinationService, Argument: "pump-south"},
		}},
		Policy: Policy{
			MaxQueueLen:  16,
			MaxBatchSize: 4,
			IdleSleep:    time.Millisecond,
		},
		WAL:     WALConfig{Dir: t.TempDir()},
		Metrics: MetricsConfig{Addr: "-"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedWrite struct {
	name, value string
	dest        Destination
	arg         string
}

func TestRuntimeProjectsReadingsAndForwardsControls(t *testing.T) {
	store := memstore.New("Objects")
	var (
		mu     sync.Mutex
		tapped int
		writes []recordedWrite
	)
	tap := NewCallbackSink("tap", func(batch []*Reading) error {
		mu.Lock()
		tapped += len(batch)
		mu.Unlock()
		return nil
	})

	rt, err := NewRuntime(testConfig(t), WithNodeStore(store), WithLogger(quietLogger()), WithSink(tap))
	require.NoError(t, err)
	require.ErrorIs(t, rt.Publish(context.Background(), &Reading{Asset: "early"}), ErrNotStarted)
	require.NoError(t, rt.Start())

	ts := Timestamp{Sec: 1714557600}
	n := rt.Send([]*Reading{
		NewReading("pump", ts, Datapoint{Name: "area", Value: String("north")}, Datapoint{Name: "temp", Value: Float(21.5)}),
		NewReading("fan", ts, Datapoint{Name: "rpm", Value: Integer(900)}),
		nil,
	})
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool { return rt.Stats().Assets == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return tapped == 2
	}, 2*time.Second, 5*time.Millisecond)

	temp, ok := store.Find("north", "pump", "temp")
	require.True(t, ok)
	v, source, err := store.Value(temp)
	require.NoError(t, err)
	assert.Equal(t, domain.Float(21.5), v)
	assert.Equal(t, ts.Time(), source)
	_, ok = store.Find("fan", "rpm")
	assert.True(t, ok)

	rt.RegisterControl(func(name, value string, dest Destination, arg string) bool {
		mu.Lock()
		writes = append(writes, recordedWrite{name, value, dest, arg})
		mu.Unlock()
		return true
	})
	speed, ok := store.Find("Control", "speed")
	require.True(t, ok)
	require.NoError(t, store.Write(speed, domain.Integer(7)))

	mu.Lock()
	assert.Equal(t, []recordedWrite{{"speed", "7", DestinationService, "pump-south"}}, writes)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))
	assert.Zero(t, rt.Stats().WAL.SizeBytes)
}

func TestRuntimeReplaysUnprojectedReadings(t *testing.T) {
	cfg := testConfig(t)
	failing := NewCallbackSink("flaky", func([]*Reading) error { return errors.New("downstream offline") })

	first, err := NewRuntime(cfg, WithNodeStore(memstore.New("Objects")), WithLogger(quietLogger()), WithSink(failing))
	require.NoError(t, err)
	require.NoError(t, first.Start())
	require.Equal(t, 1, first.Send([]*Reading{{Asset: "pump", Datapoints: []Datapoint{{Name: "temp", Value: Float(1)}}}}))
	require.Eventually(t, func() bool { return first.Stats().QueueLen == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Shutdown(context.Background()))

	store := memstore.New("Objects")
	second, err := NewRuntime(cfg, WithNodeStore(store), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, second.Start())
	defer second.Shutdown(context.Background())

	require.Eventually(t, func() bool {
		_, ok := second.Asset("pump")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := store.Find("pump", "temp")
	assert.True(t, ok)
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	col := &stubCollector{}
	tr := &stubTransformer{}
	s := &stubSink{}

	rt, err := NewRuntime(testConfig(t),
		WithNodeStore(memstore.New("Objects")),
		WithCollector(col),
		WithTransformer(tr),
		WithSink(s),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	assert.Same(t, col, rt.collector)
	assert.Same(t, tr, rt.tr)
	require.Len(t, rt.sinks, 2)
	assert.Equal(t, "opcua", rt.sinks[0].Name())
	assert.Same(t, s, rt.sinks[1])
	assert.Nil(t, rt.db)
}

func TestLoadBuildsRuntimeFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := fmt.Sprintf(`
hierarchy: '{"area": {}}'
control:
  map: '{"nodes": [{"name": "speed", "type": "integer"}]}'
wal:
  dir: %q
metrics:
  addr: "-"
`, filepath.Join(dir, "wal"))
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	store := memstore.New("Objects")
	rt, err := Load(path, WithNodeStore(store), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	defer rt.Shutdown(context.Background())

	_, ok := store.Find("Control", "speed")
	assert.True(t, ok)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFailedStartStopsTheNodeStore(t *testing.T) {
	store := &lifecycleStore{Store: memstore.New("Objects"), failContainers: true}
	rt, err := NewRuntime(testConfig(t), WithNodeStore(store), WithLogger(quietLogger()))
	require.NoError(t, err)

	require.Error(t, rt.Start())
	assert.Equal(t, 1, store.starts)
	assert.Equal(t, 1, store.stops)
	require.ErrorIs(t, rt.Publish(context.Background(), &Reading{Asset: "pump"}), ErrNotStarted)

	store.failContainers = false
	require.NoError(t, rt.Start())
	assert.Equal(t, 2, store.starts)

	require.NoError(t, rt.Shutdown(context.Background()))
	assert.Equal(t, 2, store.stops)
}

// lifecycleStore counts Start and Stop calls on an in-memory store whose
// container creation can be made to fail.
type lifecycleStore struct {
	*memstore.Store
	failContainers bool
	starts, stops  int
}

func (s *lifecycleStore) Start() error { s.starts++; return nil }
func (s *lifecycleStore) Stop() error  { s.stops++; return nil }

func (s *lifecycleStore) CreateContainer(parent NodeRef, key, name string) (NodeRef, error) {
	if s.failContainers {
		return NodeRef{}, errors.New("address space full")
	}
	return s.Store.CreateContainer(parent, key, name)
}

type stubCollector struct{}

func (s *stubCollector) Start(chan<- *Reading) error { return nil }
func (s *stubCollector) Stop() error                 { return nil }

type stubSink struct{}

func (s *stubSink) WriteBatch([]*Reading) error { return nil }
func (s *stubSink) Name() string                { return "stub" }

type stubTransformer struct{}

func (s *stubTransformer) Transform(r *Reading) (*Reading, error) { return r, nil }
