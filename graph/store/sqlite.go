package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It stores every thread's checkpoint log in a single-file database.
// Designed for:
//   - The CLI's default durable backend with zero setup
//   - Single-process deployments that must survive restarts
//   - Tests that need real persistence (use t.TempDir or ":memory:")
//
// Features:
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - UNIQUE(thread_id, seq) enforced inside a transaction, so a checkpoint
//     is either fully visible or not visible at all
//
// Thread locks are held in process. Run one writer process per database file;
// use MySQLStore or RedisStore when several processes share threads.
//
// Schema:
//   - checkpoints: one row per checkpoint, state and pending tasks as JSON
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	locks  *threadLocks
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./tripgraph.db" - file in current directory
//   - "/tmp/threads.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore[graph.State]("./tripgraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[S]{
		db:    db,
		path:  path,
		locks: newThreadLocks(),
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL,
			pending TEXT NOT NULL,
			status TEXT NOT NULL,
			node_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			resumed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(thread_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq ON checkpoints(thread_id, seq)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_thread_seq: %w", err)
	}

	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append persists a checkpoint (implements Store interface).
//
// The latest sequence number is read and the row inserted in one
// transaction; the UNIQUE(thread_id, seq) constraint backs this up if two
// connections race.
func (s *SQLiteStore[S]) Append(ctx context.Context, cp Checkpoint[S]) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}

	row, err := encodeRow(cp)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var latest sql.NullInt64
	if err = tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM checkpoints WHERE thread_id = ?", cp.ThreadID,
	).Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest sequence: %w", err)
	}
	if latest.Valid && latest.Int64 >= int64(cp.Seq) {
		err = ErrSequenceConflict
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, seq, state, pending, status, node_id, source, resumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.threadID, row.seq, row.state, row.pending, row.status, row.node, row.source, row.resumed, row.createdAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			err = ErrSequenceConflict
			return err
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Latest retrieves the highest-sequence checkpoint for a thread.
func (s *SQLiteStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	var zero Checkpoint[S]
	if err := s.checkOpen(); err != nil {
		return zero, err
	}

	query := `
		SELECT thread_id, seq, state, pending, status, node_id, source, resumed, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`

	var row checkpointRow
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(row.targets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	return decodeRow[S](row)
}

// History retrieves every checkpoint of a thread in ascending order.
func (s *SQLiteStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT thread_id, seq, state, pending, status, node_id, source, resumed, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanHistory[S](rows)
}

// Lock acquires the in-process lock for a thread.
func (s *SQLiteStore[S]) Lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.locks.lock(ctx, threadID)
}

// Threads lists all thread ids stored in the database.
func (s *SQLiteStore[S]) Threads(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT thread_id FROM checkpoints ORDER BY thread_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanThreadIDs(rows)
}

// Close closes the database connection.
//
// After Close, all operations return ErrClosed.
// Calling Close multiple times is safe.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// checkpointRow is the column layout shared by the SQL backends.
type checkpointRow struct {
	threadID  string
	seq       int
	state     string
	pending   string
	status    string
	node      string
	source    string
	resumed   bool
	createdAt string
}

func (r *checkpointRow) targets() []any {
	return []any{&r.threadID, &r.seq, &r.state, &r.pending, &r.status, &r.node, &r.source, &r.resumed, &r.createdAt}
}

func encodeRow[S any](cp Checkpoint[S]) (checkpointRow, error) {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return checkpointRow{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	pending := cp.Pending
	if pending == nil {
		pending = []Task[S]{}
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return checkpointRow{}, fmt.Errorf("failed to marshal pending tasks: %w", err)
	}

	return checkpointRow{
		threadID:  cp.ThreadID,
		seq:       cp.Seq,
		state:     string(stateJSON),
		pending:   string(pendingJSON),
		status:    string(cp.Status),
		node:      cp.Node,
		source:    string(cp.Source),
		resumed:   cp.Resumed,
		createdAt: cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeRow[S any](row checkpointRow) (Checkpoint[S], error) {
	var zero Checkpoint[S]

	cp := Checkpoint[S]{
		ThreadID: row.threadID,
		Seq:      row.seq,
		Status:   Status(row.status),
		Node:     row.node,
		Source:   Source(row.source),
		Resumed:  row.resumed,
	}

	if err := json.Unmarshal([]byte(row.state), &cp.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	var pending []Task[S]
	if err := json.Unmarshal([]byte(row.pending), &pending); err != nil {
		return zero, fmt.Errorf("failed to unmarshal pending tasks: %w", err)
	}
	if len(pending) > 0 {
		cp.Pending = pending
	}

	created, err := time.Parse(time.RFC3339Nano, row.createdAt)
	if err != nil {
		return zero, fmt.Errorf("failed to parse created_at: %w", err)
	}
	cp.CreatedAt = created

	return cp, nil
}

func scanHistory[S any](rows *sql.Rows) ([]Checkpoint[S], error) {
	var history []Checkpoint[S]
	for rows.Next() {
		var row checkpointRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		cp, err := decodeRow[S](row)
		if err != nil {
			return nil, err
		}
		history = append(history, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history, nil
}

func scanThreadIDs(rows *sql.Rows) ([]string, error) {
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread rows: %w", err)
	}
	return ids, nil
}
