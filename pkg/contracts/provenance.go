package contracts

import (
	"encoding/json"
	"time"
)

// EventType names a provenance event in a task's lifecycle.
type EventType string

const (
	EventOrchestrateEnter EventType = "OrchestrateEnter"
	EventValidationResult EventType = "ValidationResult"
	EventWorkerDispatched EventType = "WorkerDispatched"
	EventJudgeVerdict     EventType = "JudgeVerdict"
	EventFinalVerdict     EventType = "FinalVerdict"
	EventOrchestrateExit  EventType = "OrchestrateExit"
)

// ChainRoot is the sentinel parent digest of the first event in a task's
// provenance chain.
const ChainRoot = "sha256:root"

// ProvenanceEvent is one append-only audit record. Per task, events form an
// unbroken hash chain: each event's ParentDigest equals the digest of the
// previous event, or ChainRoot for the first.
type ProvenanceEvent struct {
	EventType    EventType       `json:"event_type"`
	TaskID       string          `json:"task_id"`
	Payload      json.RawMessage `json:"payload"`
	ParentDigest string          `json:"parent_digest"`

	// Digest covers the canonical encoding of
	// {task_id, event_type, payload, parent_digest}.
	Digest string `json:"digest,omitempty"`

	// Signature is a JWS over Digest using the configured key.
	Signature string `json:"signature,omitempty"`

	Sequence   uint64    `json:"sequence,omitempty"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// SigningBody returns the portion of the event covered by Digest and
// Signature. Sequence and RecordedAt are storage metadata, not signed.
func (e ProvenanceEvent) SigningBody() map[string]any {
	return map[string]any{
		"task_id":       e.TaskID,
		"event_type":    string(e.EventType),
		"payload":       e.Payload,
		"parent_digest": e.ParentDigest,
	}
}

// ExecutionEventKind classifies dispatcher execution events carried inside
// WorkerDispatched payloads.
type ExecutionEventKind string

const (
	ExecutionStarted   ExecutionEventKind = "started"
	ExecutionProgress  ExecutionEventKind = "progress"
	ExecutionCompleted ExecutionEventKind = "completed"
)

// ExecutionEvent records one step of a worker execution.
type ExecutionEvent struct {
	Kind       ExecutionEventKind `json:"kind"`
	TaskID     string             `json:"task_id"`
	WorkerID   string             `json:"worker_id"`
	Detail     string             `json:"detail,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}
