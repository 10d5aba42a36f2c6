package provenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists provenance events in an embedded SQLite database.
// Event payload bytes are stored verbatim so verification can recompute
// digests over exactly what was signed.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) a store at path. Use ":memory:" for
// tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS provenance_events (
		task_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		parent_digest TEXT NOT NULL,
		digest TEXT NOT NULL,
		signature TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, sequence)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate provenance_events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, event *contracts.ProvenanceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq sql.NullInt64
	row := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM provenance_events WHERE task_id = ?`, event.TaskID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	event.Sequence = uint64(seq.Int64) + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provenance_events
			(task_id, sequence, event_type, payload, parent_digest, digest, signature, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteStore) Events(ctx context.Context, taskID string) ([]contracts.ProvenanceEvent, error) {
	return s.query(ctx, `
		SELECT task_id, sequence, event_type, payload, parent_digest, digest, signature, recorded_at
		FROM provenance_events WHERE task_id = ? ORDER BY sequence ASC`, taskID)
}

func (s *SQLiteStore) Range(ctx context.Context, taskID string, from, to uint64) ([]contracts.ProvenanceEvent, error) {
	return s.query(ctx, `
		SELECT task_id, sequence, event_type, payload, parent_digest, digest, signature, recorded_at
		FROM provenance_events WHERE task_id = ? AND sequence BETWEEN ? AND ?
		ORDER BY sequence ASC`, taskID, from, to)
}

// Prune deletes events older than the retention window. Retention is
// configurable in days; pruning never touches a task's newest event so the
// chain head survives.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM provenance_events
		WHERE recorded_at < ?
		  AND sequence < (SELECT MAX(sequence) FROM provenance_events p2
		                  WHERE p2.task_id = provenance_events.task_id)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]contracts.ProvenanceEvent, error) {
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
