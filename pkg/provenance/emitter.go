package provenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/canonicalize"
	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/crypto"
	"github.com/arbiterlabs/arbiter/pkg/retry"
)

// Archive mirrors appended events into long-term retention storage (e.g.
// an object store). Archival is best-effort: the store append is the
// durability boundary, the archive a replica.
type Archive interface {
	Put(ctx context.Context, event *contracts.ProvenanceEvent) error
}

// Emitter records provenance events, maintaining per-task parent_digest
// state so each task's events form an unbroken chain from ChainRoot.
//
// Per-task chain state is exclusively owned by the fiber driving the task;
// the emitter only serializes concurrent tasks against the shared store.
type Emitter struct {
	store      Store
	archive    Archive
	keyring    *crypto.Keyring
	deadLetter DeadLetter
	policy     retry.Policy
	clock      func() time.Time
	logger     *slog.Logger

	mu         sync.Mutex
	parents    map[string]string
	incomplete map[string]bool
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEmitterClock overrides the clock for deterministic testing.
func WithEmitterClock(clock func() time.Time) EmitterOption {
	return func(e *Emitter) { e.clock = clock }
}

// WithRetryPolicy overrides the storage retry policy.
func WithRetryPolicy(policy retry.Policy) EmitterOption {
	return func(e *Emitter) { e.policy = policy }
}

// WithDeadLetter overrides the dead-letter sink.
func WithDeadLetter(dl DeadLetter) EmitterOption {
	return func(e *Emitter) { e.deadLetter = dl }
}

// WithArchive mirrors every durable append into an archive sink.
func WithArchive(a Archive) EmitterOption {
	return func(e *Emitter) { e.archive = a }
}

// NewEmitter creates an emitter over the given store and signing keyring.
func NewEmitter(store Store, keyring *crypto.Keyring, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		store:      store,
		keyring:    keyring,
		deadLetter: NewMemoryDeadLetter(),
		policy:     retry.Policy{BaseMs: 100, MaxMs: 2000, MaxJitterMs: 100, MaxAttempts: 4},
		clock:      time.Now,
		logger:     slog.Default().With("component", "provenance"),
		parents:    make(map[string]string),
		incomplete: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record appends one event to the task's chain: it links the parent digest,
// computes the content digest over the canonical signing body, signs it,
// and appends to the store with bounded retries. On retry exhaustion the
// event goes to the dead letter queue, the chain is marked incomplete, and
// the task continues (non-fatal).
func (e *Emitter) Record(ctx context.Context, eventType contracts.EventType, taskID string, payload any) error {
	raw, err := contracts.Encode(payload)
	if err != nil {
		return contracts.NewFault(contracts.FaultProvenance, "encode payload", err)
	}

	e.mu.Lock()
	parent, ok := e.parents[taskID]
	if !ok {
		parent = contracts.ChainRoot
	}
	e.mu.Unlock()

	event := &contracts.ProvenanceEvent{
		EventType:    eventType,
		TaskID:       taskID,
		Payload:      raw,
		ParentDigest: parent,
		RecordedAt:   e.clock().UTC(),
	}

	digest, err := canonicalize.CanonicalHash(event.SigningBody())
	if err != nil {
		return contracts.NewFault(contracts.FaultProvenance, "digest event", err)
	}
	event.Digest = digest

	signature, err := e.keyring.SignDigest(digest)
	if err != nil {
		return contracts.NewFault(contracts.FaultProvenance, "sign event", err)
	}
	event.Signature = signature

	if err := e.appendWithRetry(ctx, event); err != nil {
		e.deadLetter.Enqueue(ctx, event, err)
		e.mu.Lock()
		e.incomplete[taskID] = true
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "provenance append exhausted retries; dead-lettered",
			"task_id", taskID, "event_type", string(eventType), "error", err)
		return contracts.NewFault(contracts.FaultProvenance, "append event", err)
	}

	// Advance the chain only after a durable append.
	e.mu.Lock()
	e.parents[taskID] = digest
	e.mu.Unlock()

	// Archival is a replica of the durable append, never a gate on it.
	if e.archive != nil {
		if err := e.archive.Put(ctx, event); err != nil {
			e.logger.WarnContext(ctx, "provenance archive put failed",
				"task_id", taskID, "event_type", string(eventType), "error", err)
		}
	}
	return nil
}

func (e *Emitter) appendWithRetry(ctx context.Context, event *contracts.ProvenanceEvent) error {
	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if !retry.Sleep(ctx.Done(), retry.Params{
			Scope:        "provenance",
			SubjectID:    event.TaskID,
			AttemptIndex: attempt,
		}, e.policy) {
			return fmt.Errorf("append cancelled: %w", ctx.Err())
		}
		if lastErr = e.store.Append(ctx, event); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Incomplete reports whether the task's chain lost an event to the dead
// letter queue and awaits reconciliation.
func (e *Emitter) Incomplete(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incomplete[taskID]
}

// Parent returns the current chain head digest for a task (ChainRoot when
// the task has no events yet).
func (e *Emitter) Parent(taskID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.parents[taskID]; ok {
		return p
	}
	return contracts.ChainRoot
}
