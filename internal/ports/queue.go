package ports

import "github.com/fledge-iot/fledge-north-opcua/internal/domain"

type QueuedReading struct {
	ID      WALEntryID
	Reading *domain.Reading
}

type ReadingQueue interface {
	Enqueue(id WALEntryID, r *domain.Reading) bool
	DequeueBatch(max int) []QueuedReading
	Len() int
	// Ready is signalled after an enqueue into an idle queue.
	Ready() <-chan struct{}
}
