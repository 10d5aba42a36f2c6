package provenance

import (
	"context"
	"sync"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// DeadLetter receives events the store persistently refused. Reconciliation
// drains it back into the store out of band.
type DeadLetter interface {
	Enqueue(ctx context.Context, event *contracts.ProvenanceEvent, cause error)
	Drain(ctx context.Context) []DeadLetterEntry
	Len() int
}

// DeadLetterEntry pairs a failed event with its cause.
type DeadLetterEntry struct {
	Event    contracts.ProvenanceEvent
	Cause    string
	FailedAt time.Time
}

// MemoryDeadLetter is the in-process dead letter queue.
type MemoryDeadLetter struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	clock   func() time.Time
}

// NewMemoryDeadLetter creates an empty queue.
func NewMemoryDeadLetter() *MemoryDeadLetter {
	return &MemoryDeadLetter{clock: time.Now}
}

func (q *MemoryDeadLetter) Enqueue(ctx context.Context, event *contracts.ProvenanceEvent, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.entries = append(q.entries, DeadLetterEntry{
		Event:    *event,
		Cause:    msg,
		FailedAt: q.clock().UTC(),
	})
}

func (q *MemoryDeadLetter) Drain(ctx context.Context) []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	return out
}

func (q *MemoryDeadLetter) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
