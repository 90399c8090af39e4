package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

var (
	ErrWALFull   = errors.New("pipeline: wal full")
	ErrQueueFull = errors.New("pipeline: queue full")
)

// Intake makes readings durable in the WAL and queues them for the ingest
// loop. Append and enqueue happen under one lock so queue order follows WAL
// order.
type Intake struct {
	mu  sync.Mutex
	wal ports.WAL
	q   ports.ReadingQueue
	pol ports.Policy
	obs ports.Observability
}

func NewIntake(wal ports.WAL, q ports.ReadingQueue, pol ports.Policy, obs ports.Observability) *Intake {
	return &Intake{wal: wal, q: q, pol: pol, obs: obs}
}

// Accept appends r to the WAL and queues it according to the policy.
func (in *Intake) Accept(ctx context.Context, r *domain.Reading) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !waitForWALCapacity(ctx, in.wal, in.pol, in.obs) {
		return ErrWALFull
	}
	id, err := in.wal.Append(r)
	if err != nil {
		in.obs.LogCritical("wal_append_failed", err, ports.F("asset", r.Asset))
		return fmt.Errorf("wal append: %w", err)
	}
	in.obs.SetGauge(ports.MetricWALSize, float64(in.wal.Stats().SizeBytes))

	if !enqueueWithPolicy(ctx, in.q, id, r, in.pol, in.obs) {
		in.obs.IncCounter(ports.MetricQueueDropped, 1)
		return ErrQueueFull
	}
	in.obs.SetGauge(ports.MetricQueueLength, float64(in.q.Len()))
	return nil
}

// Replay queues every uncommitted WAL record. Records are read before any
// is queued, so a blocking queue policy cannot hold the WAL lock; the ingest
// loop must already be running in that case.
func (in *Intake) Replay(ctx context.Context) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	from := in.wal.Stats().OldestUncommitted
	var pending []ports.QueuedReading
	err := in.wal.Iterate(from, func(id ports.WALEntryID, r *domain.Reading) error {
		pending = append(pending, ports.QueuedReading{ID: id, Reading: r})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("wal replay: %w", err)
	}

	n := 0
	for _, item := range pending {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if !enqueueWithPolicy(ctx, in.q, item.ID, item.Reading, in.pol, in.obs) {
			in.obs.IncCounter(ports.MetricQueueDropped, 1)
			continue
		}
		n++
	}
	if n > 0 {
		in.obs.LogInfo("wal_replayed", ports.F("readings", n), ports.F("from", uint64(from)))
	}
	return n, nil
}

// RunEdgePipeline starts col and feeds everything it produces into in until
// ctx is cancelled.
func RunEdgePipeline(ctx context.Context, col ports.Collector, in *Intake, pol ports.Policy, obs ports.Observability) error {
	size := pol.MaxQueueLen
	if size <= 0 {
		size = 1
	}
	ch := make(chan *domain.Reading, size)

	if err := col.Start(ch); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-ch:
				if !ok {
					return
				}
				if err := in.Accept(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
					obs.LogDebug("collector_reading_rejected", ports.F("asset", r.Asset), ports.F("error", err.Error()))
				}
			}
		}
	}()

	return nil
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func waitForWALCapacity(ctx context.Context, wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := idleSleep(pol)

	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			select {
			case <-ctx.Done():
				return false
			case <-time.After(sleep):
			}
		case "drop":
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.ReadingQueue, id ports.WALEntryID, r *domain.Reading, pol ports.Policy, obs ports.Observability) bool {
	sleep := idleSleep(pol)

	for {
		if ok := q.Enqueue(id, r); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			select {
			case <-ctx.Done():
				return false
			case <-time.After(sleep):
			}
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
