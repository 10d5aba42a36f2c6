package provenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

func sqliteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func event(taskID string, et contracts.EventType, parent string) *contracts.ProvenanceEvent {
	return &contracts.ProvenanceEvent{
		EventType:    et,
		TaskID:       taskID,
		Payload:      []byte(`{"k":"v"}`),
		ParentDigest: parent,
		Digest:       "sha256:" + string(et),
		Signature:    "jws-" + string(et),
		RecordedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteAppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t)

	e1 := event("T-1", contracts.EventOrchestrateEnter, contracts.ChainRoot)
	e2 := event("T-1", contracts.EventOrchestrateExit, "sha256:OrchestrateEnter")
	require.NoError(t, store.Append(ctx, e1))
	require.NoError(t, store.Append(ctx, e2))
	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)

	events, err := store.Events(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, contracts.EventOrchestrateEnter, events[0].EventType)
	assert.Equal(t, []byte(`{"k":"v"}`), []byte(events[0].Payload), "payload bytes preserved verbatim")
}

func TestSQLiteSequencesPerTask(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t)

	a := event("T-A", contracts.EventOrchestrateEnter, contracts.ChainRoot)
	b := event("T-B", contracts.EventOrchestrateEnter, contracts.ChainRoot)
	require.NoError(t, store.Append(ctx, a))
	require.NoError(t, store.Append(ctx, b))
	assert.Equal(t, uint64(1), a.Sequence)
	assert.Equal(t, uint64(1), b.Sequence, "sequences are independent per task")
}

func TestSQLiteRange(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t)

	for _, et := range []contracts.EventType{
		contracts.EventOrchestrateEnter, contracts.EventValidationResult,
		contracts.EventFinalVerdict, contracts.EventOrchestrateExit,
	} {
		require.NoError(t, store.Append(ctx, event("T-R", et, "p")))
	}

	events, err := store.Range(ctx, "T-R", 2, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, contracts.EventValidationResult, events[0].EventType)
	assert.Equal(t, contracts.EventFinalVerdict, events[1].EventType)
}

func TestSQLitePruneKeepsChainHead(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t)

	old := event("T-P", contracts.EventOrchestrateEnter, contracts.ChainRoot)
	old.RecordedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	head := event("T-P", contracts.EventOrchestrateExit, "p")
	head.RecordedAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Append(ctx, head))

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pruned, err := store.Prune(ctx, 90*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	events, err := store.Events(ctx, "T-P")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventOrchestrateExit, events[0].EventType, "newest event survives retention")
}
