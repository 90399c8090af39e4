package pipeline

import (
	"context"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// RunIngestPipeline drains q into sinks until ctx is cancelled. A batch is
// committed in the WAL only after every sink accepted it. Once a sink rejects
// a batch, the commit point stays below that batch for the life of the loop
// so a restart replays it along with everything after it.
func RunIngestPipeline(ctx context.Context, wal ports.WAL, q ports.ReadingQueue, tr ports.Transformer, sinks []ports.Sink, pol ports.Policy, obs ports.Observability) {
	in := &ingester{wal: wal, tr: tr, sinks: sinks, obs: obs}
	for {
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.Ready():
			case <-time.After(idleSleep(pol)):
			}
			continue
		}
		in.ingest(batch)
		obs.SetGauge(ports.MetricQueueLength, float64(q.Len()))
	}
}

type ingester struct {
	wal   ports.WAL
	tr    ports.Transformer
	sinks []ports.Sink
	obs   ports.Observability

	// hold is the first entry of the earliest batch a sink rejected, zero
	// when none did. Commits never reach it.
	hold ports.WALEntryID
}

func (in *ingester) ingest(batch []ports.QueuedReading) {
	var (
		out          = make([]*domain.Reading, 0, len(batch))
		minID, maxID ports.WALEntryID
	)

	for _, item := range batch {
		if minID == 0 || item.ID < minID {
			minID = item.ID
		}
		if item.ID > maxID {
			maxID = item.ID
		}
		r := item.Reading
		if in.tr != nil {
			var err error
			if r, err = in.tr.Transform(item.Reading); err != nil {
				in.obs.RecordDLQ(item.ID, item.Reading, err)
				continue
			}
		}
		if r != nil {
			out = append(out, r)
		}
	}

	if len(out) > 0 {
		failed := false
		for _, s := range in.sinks {
			if err := s.WriteBatch(out); err != nil {
				in.obs.LogError("sink_write_failed", err, ports.F("sink", s.Name()), ports.F("readings", len(out)))
				failed = true
			}
		}
		if failed {
			if in.hold == 0 || minID < in.hold {
				in.hold = minID
				in.obs.LogWarn("wal_commit_held", ports.F("from", uint64(minID)))
			}
			return
		}
	}

	upto := maxID
	if in.hold != 0 && upto >= in.hold {
		upto = in.hold - 1
	}
	if upto > 0 {
		if err := in.wal.Commit(upto); err != nil {
			in.obs.LogError("wal_commit_failed", err)
			return
		}
	}

	stats := in.wal.Stats()
	if stats.SizeBytes > 0 && stats.OldestUncommitted > stats.LatestAppended {
		if err := in.wal.TruncateCommitted(); err != nil {
			in.obs.LogError("wal_truncate_failed", err)
		}
		stats = in.wal.Stats()
	}
	in.obs.SetGauge(ports.MetricWALSize, float64(stats.SizeBytes))
}
