package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL`,
	`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
		workflow_id TEXT NOT NULL,
		node_id     TEXT NOT NULL,
		sequence    INTEGER NOT NULL,
		saved_at    INTEGER NOT NULL,
		data        BLOB NOT NULL,
		PRIMARY KEY (workflow_id, node_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_checkpoints_saved_at ON workflow_checkpoints(saved_at)`,
}

// SQLiteStore keeps checkpoints in a SQLite file, so workflows survive a
// restart of a single server process.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration

	mu     sync.RWMutex
	closed bool
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithRetention drops checkpoints older than d when the store opens and on
// every Prune. Zero keeps them forever.
func WithRetention(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.retention = d }
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare checkpoint schema: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Prune(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// exec runs a write under the store lock.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Save implements Store. The checkpoint takes the workflow's next sequence
// even when it replaces an earlier one for the same node.
func (s *SQLiteStore) Save(ctx context.Context, workflowID, nodeID string, data []byte) error {
	_, err := s.exec(ctx, "save checkpoint", `
		INSERT INTO workflow_checkpoints (workflow_id, node_id, sequence, saved_at, data)
		VALUES (?1, ?2,
			COALESCE((SELECT MAX(sequence) FROM workflow_checkpoints WHERE workflow_id = ?1), 0) + 1,
			?3, ?4)
		ON CONFLICT(workflow_id, node_id) DO UPDATE SET
			sequence = (SELECT MAX(sequence) FROM workflow_checkpoints WHERE workflow_id = ?1) + 1,
			saved_at = excluded.saved_at,
			data     = excluded.data`,
		workflowID, nodeID, time.Now().UTC().UnixNano(), data)
	return err
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, workflowID, nodeID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM workflow_checkpoints WHERE workflow_id = ? AND node_id = ?`,
		workflowID, nodeID,
	).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, workflowID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, sequence, saved_at, LENGTH(data)
		FROM workflow_checkpoints
		WHERE workflow_id = ?
		ORDER BY sequence`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		info := Info{WorkflowID: workflowID}
		var savedAt int64
		if err := rows.Scan(&info.NodeID, &info.Sequence, &savedAt, &info.Size); err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		info.Timestamp = time.Unix(0, savedAt).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, workflowID, nodeID string) error {
	_, err := s.exec(ctx, "delete checkpoint",
		`DELETE FROM workflow_checkpoints WHERE workflow_id = ? AND node_id = ?`, workflowID, nodeID)
	return err
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(ctx context.Context, workflowID string) error {
	_, err := s.exec(ctx, "delete workflow checkpoints",
		`DELETE FROM workflow_checkpoints WHERE workflow_id = ?`, workflowID)
	return err
}

// Prune deletes checkpoints older than the retention and reports how many
// went. Without a retention it does nothing.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.retention).UnixNano()
	res, err := s.exec(ctx, "prune checkpoints",
		`DELETE FROM workflow_checkpoints WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close implements Store. Closing twice is harmless.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
