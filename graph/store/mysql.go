package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is the server error number for a UNIQUE violation.
const mysqlDuplicateEntry = 1062

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Use it when several processes execute threads against the same log. Thread
// locks are MySQL advisory locks (GET_LOCK), so the at-most-one-step-per-thread
// guarantee holds across processes, not only goroutines.
//
// The DSN must include parseTime=true only if you query the table directly;
// the store itself keeps timestamps as RFC 3339 strings.
//
// Example:
//
//	dsn := "user:password@tcp(localhost:3306)/tripgraph"
//	st, err := store.NewMySQLStore[graph.State](dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	// lockPoll bounds each GET_LOCK wait so ctx cancellation is observed.
	lockPoll time.Duration
}

// NewMySQLStore opens a connection pool, verifies it, and migrates the schema.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{
		db:       db,
		lockPoll: time.Second,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			state JSON NOT NULL,
			pending JSON NOT NULL,
			status VARCHAR(32) NOT NULL,
			node_id VARCHAR(255) NOT NULL DEFAULT '',
			source VARCHAR(16) NOT NULL,
			resumed TINYINT(1) NOT NULL DEFAULT 0,
			created_at VARCHAR(64) NOT NULL,
			INDEX idx_thread_id (thread_id),
			UNIQUE KEY unique_thread_seq (thread_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`

	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Append persists a checkpoint (implements Store interface).
//
// The sequence check runs under SELECT ... FOR UPDATE so two writers cannot
// both observe the same latest Seq; the unique key is the final guard.
func (m *MySQLStore[S]) Append(ctx context.Context, cp Checkpoint[S]) (err error) {
	if err := m.checkOpen(); err != nil {
		return err
	}

	row, err := encodeRow(cp)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
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
		"SELECT MAX(seq) FROM checkpoints WHERE thread_id = ? FOR UPDATE", cp.ThreadID,
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
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
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
func (m *MySQLStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	var zero Checkpoint[S]
	if err := m.checkOpen(); err != nil {
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
	err := m.db.QueryRowContext(ctx, query, threadID).Scan(row.targets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	return decodeRow[S](row)
}

// History retrieves every checkpoint of a thread in ascending order.
func (m *MySQLStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT thread_id, seq, state, pending, status, node_id, source, resumed, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq ASC
	`
	rows, err := m.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanHistory[S](rows)
}

// Lock acquires a MySQL advisory lock named after the thread.
//
// Advisory locks belong to a session, so the lock pins one pooled connection
// until the returned UnlockFunc runs.
func (m *MySQLStore[S]) Lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection for lock: %w", err)
	}

	name := mysqlLockName(threadID)
	wait := int(m.lockPoll / time.Second)
	if wait < 1 {
		wait = 1
	}

	for {
		var got sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, wait).Scan(&got); err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if got.Valid && got.Int64 == 1 {
			break
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			defer func() { _ = conn.Close() }()
			if _, execErr := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", name); execErr != nil {
				err = fmt.Errorf("failed to release lock: %w", execErr)
			}
		})
		return err
	}, nil
}

// Threads lists all thread ids stored in the database.
func (m *MySQLStore[S]) Threads(ctx context.Context) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT DISTINCT thread_id FROM checkpoints ORDER BY thread_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanThreadIDs(rows)
}

// Close closes the connection pool. Calling Close multiple times is safe.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// mysqlLockName keeps advisory lock names under MySQL's 64 character limit.
func mysqlLockName(threadID string) string {
	name := "tripgraph:" + threadID
	if len(name) <= 64 {
		return name
	}
	sum := sha1.Sum([]byte(threadID))
	return "tripgraph:" + hex.EncodeToString(sum[:])
}
