package provenance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore persists provenance events in Postgres for deployments
// where the chain outlives a single process.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing handle. Migration is the operator's
// concern in production; EnsureSchema exists for tests and bootstrap.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the events table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS provenance_events (
		task_id TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		parent_digest TEXT NOT NULL,
		digest TEXT NOT NULL,
		signature TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (task_id, sequence)
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure provenance schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event *contracts.ProvenanceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq sql.NullInt64
	row := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM provenance_events WHERE task_id = $1`, event.TaskID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	event.Sequence = uint64(seq.Int64) + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provenance_events
			(task_id, sequence, event_type, payload, parent_digest, digest, signature, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.TaskID, event.Sequence, string(event.EventType), []byte(event.Payload),
		event.ParentDigest, event.Digest, event.Signature, event.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) Events(ctx context.Context, taskID string) ([]contracts.ProvenanceEvent, error) {
	return s.query(ctx, `
		SELECT task_id, sequence, event_type, payload, parent_digest, digest, signature, recorded_at
		FROM provenance_events WHERE task_id = $1 ORDER BY sequence ASC`, taskID)
}

func (s *PostgresStore) Range(ctx context.Context, taskID string, from, to uint64) ([]contracts.ProvenanceEvent, error) {
	return s.query(ctx, `
		SELECT task_id, sequence, event_type, payload, parent_digest, digest, signature, recorded_at
		FROM provenance_events WHERE task_id = $1 AND sequence BETWEEN $2 AND $3
		ORDER BY sequence ASC`, taskID, from, to)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]contracts.ProvenanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []contracts.ProvenanceEvent
	for rows.Next() {
		var ev contracts.ProvenanceEvent
		var eventType string
		var payload []byte
		if err := rows.Scan(&ev.TaskID, &ev.Sequence, &eventType, &payload,
			&ev.ParentDigest, &ev.Digest, &ev.Signature, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventType = contracts.EventType(eventType)
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
