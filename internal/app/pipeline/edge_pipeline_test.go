package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/queue"
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/wal"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

func TestWaitForWALCapacityBlockThenSucceed(t *testing.T) {
	w := &mockWAL{
		sizes: []int64{150, 50},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "block",
		IdleSleep:       time.Millisecond,
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(context.Background(), w, pol, obs); !ok {
		t.Fatalf("expected waitForWALCapacity to eventually succeed")
	}
	if w.calls < 2 {
		t.Fatalf("expected multiple stats calls, got %d", w.calls)
	}
}

func TestWaitForWALCapacityBlockHonoursCancel(t *testing.T) {
	w := &mockWAL{sizes: []int64{500}}
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if ok := waitForWALCapacity(ctx, w, pol, &mockObs{}); ok {
		t.Fatalf("expected cancelled wait to fail")
	}
}

func TestWaitForWALCapacityDrop(t *testing.T) {
	w := &mockWAL{
		sizes: []int64{200, 200},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "drop",
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(context.Background(), w, pol, obs); ok {
		t.Fatalf("expected waitForWALCapacity to drop and return false")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected error to be logged")
	}
}

func TestEnqueueWithPolicyBlock(t *testing.T) {
	q := &mockQueue{}
	q.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), q, 1, &domain.Reading{}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if q.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", q.calls)
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	q := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), q, 1, &domain.Reading{}, pol, obs); ok {
		t.Fatalf("expected enqueueWithPolicy to fail")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

func TestIntakeAcceptAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.NewFileWAL(dir)
	if err != nil {
		t.Fatalf("wal: %v", err)
	}
	pol := ports.Policy{MaxQueueLen: 1, OnQueueFull: "reject"}
	obs := &mockObs{}
	in := NewIntake(w, queue.NewMemQueue(pol.MaxQueueLen), pol, obs)

	if err := in.Accept(context.Background(), &domain.Reading{Asset: "pump"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := in.Accept(context.Background(), &domain.Reading{Asset: "fan"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A restarted process sees both records as uncommitted.
	w2, err := wal.NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()
	q := queue.NewMemQueue(4)
	n, err := NewIntake(w2, q, pol, obs).Replay(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 replayed readings, got %d (%v)", n, err)
	}
	batch := q.DequeueBatch(0)
	if batch[0].Reading.Asset != "pump" || batch[1].Reading.Asset != "fan" {
		t.Fatalf("unexpected replay order: %+v", batch)
	}
}

func TestRunEdgePipelineForwardsCollectorReadings(t *testing.T) {
	col := &mockCollector{readings: []*domain.Reading{{Asset: "a"}, {Asset: "b"}}}
	w := &memWAL{}
	q := queue.NewMemQueue(8)
	pol := ports.Policy{MaxQueueLen: 8, OnQueueFull: "block", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := RunEdgePipeline(ctx, col, NewIntake(w, q, pol, &mockObs{}), pol, &mockObs{}); err != nil {
		t.Fatalf("run edge: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for q.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 queued readings, got %d", q.Len())
		}
		time.Sleep(time.Millisecond)
	}
	if got := w.appended(); got != 2 {
		t.Fatalf("expected 2 wal appends, got %d", got)
	}
}

type mockWAL struct {
	ports.WAL
	sizes []int64
	calls int
}

func (m *mockWAL) Stats() ports.WALStats {
	idx := m.calls
	if idx >= len(m.sizes) {
		idx = len(m.sizes) - 1
	}
	m.calls++
	return ports.WALStats{
		SizeBytes: m.sizes[idx],
	}
}

// memWAL is an in-memory WAL that records appends and commits.
type memWAL struct {
	mu        sync.Mutex
	entries   []*domain.Reading
	committed ports.WALEntryID
	size      int64
	truncated int
}

func (m *memWAL) Append(r *domain.Reading) (ports.WALEntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, r)
	m.size += 16
	return ports.WALEntryID(len(m.entries)), nil
}

func (m *memWAL) Iterate(from ports.WALEntryID, fn func(ports.WALEntryID, *domain.Reading) error) error {
	m.mu.Lock()
	entries := append([]*domain.Reading(nil), m.entries...)
	m.mu.Unlock()
	for i, r := range entries {
		if id := ports.WALEntryID(i + 1); id >= from {
			if err := fn(id, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memWAL) Commit(upto ports.WALEntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upto > m.committed {
		m.committed = upto
	}
	return nil
}

func (m *memWAL) TruncateCommitted() error {
	m.mu.Lock()
	m.truncated++
	m.size = 0
	m.mu.Unlock()
	return nil
}

func (m *memWAL) Stats() ports.WALStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: m.committed + 1,
		LatestAppended:    ports.WALEntryID(len(m.entries)),
		SizeBytes:         m.size,
	}
}

func (m *memWAL) Close() error { return nil }

func (m *memWAL) appended() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memWAL) lastCommit() ports.WALEntryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(id ports.WALEntryID, r *domain.Reading) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []ports.QueuedReading { return nil }
func (m *mockQueue) Len() int                               { return 0 }
func (m *mockQueue) Ready() <-chan struct{}                 { return nil }

type mockCollector struct {
	readings []*domain.Reading
}

func (m *mockCollector) Start(out chan<- *domain.Reading) error {
	go func() {
		for _, r := range m.readings {
			out <- r
		}
	}()
	return nil
}

func (m *mockCollector) Stop() error { return nil }

type mockObs struct {
	mu     sync.Mutex
	errors []error
	dlq    []ports.WALEntryID
}

func (m *mockObs) LogDebug(string, ...ports.Field) {}
func (m *mockObs) LogInfo(string, ...ports.Field)  {}
func (m *mockObs) LogWarn(string, ...ports.Field)  {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(string, float64)                {}
func (m *mockObs) ObserveLatency(string, float64)            {}
func (m *mockObs) SetGauge(string, float64)                  {}
func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Reading, _ error) {
	m.mu.Lock()
	m.dlq = append(m.dlq, id)
	m.mu.Unlock()
}
