package provenance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

func TestOpenStoreSelectsSQLiteWithoutDSN(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "provenance.db")

	store, closeStore, err := OpenStore(ctx, "", path)
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, store)

	ev := event("T-OPEN", contracts.EventOrchestrateEnter, contracts.ChainRoot)
	require.NoError(t, store.Append(ctx, ev))
	events, err := store.Events(ctx, "T-OPEN")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, closeStore())
}

func TestOpenStoreSelectsPostgresWithDSN(t *testing.T) {
	// No server is listening; sql.Open defers connection, so selection
	// fails at EnsureSchema, proving the Postgres path is taken.
	_, _, err := OpenStore(context.Background(),
		"postgres://arbiter@127.0.0.1:1/arbiter?sslmode=disable&connect_timeout=1", "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sqlite")
}
