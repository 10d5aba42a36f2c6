// Package provenance produces the tamper-evident, append-only record of
// every orchestration decision. Events for one task form a hash chain a
// third party can replay and verify.
package provenance

import (
	"context"
	"sort"
	"sync"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// Store is an append-only event sink. It must preserve bytes for
// verification and support range reads per task.
type Store interface {
	// Append records one event. Implementations assign Sequence in
	// arrival order per task.
	Append(ctx context.Context, event *contracts.ProvenanceEvent) error

	// Events returns a task's events in append order. A reader observes
	// a prefix-consistent view.
	Events(ctx context.Context, taskID string) ([]contracts.ProvenanceEvent, error)

	// Range returns a task's events with sequence in [from, to].
	Range(ctx context.Context, taskID string, from, to uint64) ([]contracts.ProvenanceEvent, error)
}

// MemoryStore is the in-process reference Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]contracts.ProvenanceEvent
	seqs   map[string]uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]contracts.ProvenanceEvent),
		seqs:   make(map[string]uint64),
	}
}

func (s *MemoryStore) Append(ctx context.Context, event *contracts.ProvenanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[event.TaskID]++
	event.Sequence = s.seqs[event.TaskID]
	s.events[event.TaskID] = append(s.events[event.TaskID], *event)
	return nil
}

func (s *MemoryStore) Events(ctx context.Context, taskID string) ([]contracts.ProvenanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[taskID]
	out := make([]contracts.ProvenanceEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (s *MemoryStore) Range(ctx context.Context, taskID string, from, to uint64) ([]contracts.ProvenanceEvent, error) {
	evs, err := s.Events(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var out []contracts.ProvenanceEvent
	for _, ev := range evs {
		if ev.Sequence >= from && ev.Sequence <= to {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
