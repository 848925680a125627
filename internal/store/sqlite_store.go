// Package store provides a WAL-mode SQLite-backed durable ledger for the
// reconciled agent. It persists every WatchedResult emitted by a
// reconcile.Engine before the agent attempts to forward it to the dashboard,
// so a dashboard outage or agent crash never loses reconciliation history.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so that concurrent
// readers and a single writer can proceed without blocking each other. This
// matters because a session's OnResultAction callback calls Put while a
// separate forwarding goroutine calls Pending and Ack.
//
// # At-least-once delivery
//
// The delivered column is set to 1 only when Ack is called. If the agent
// crashes between Put and Ack, the result is returned again by the next
// Pending call after restart, ensuring every result reaches the dashboard
// even when the transport is temporarily unavailable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fofimon/reconciler/internal/reconcile"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Store is a WAL-mode SQLite-backed durable result ledger. It is safe for
// concurrent use.
type Store struct {
	db    *sql.DB
	depth atomic.Int64
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; this is suitable for tests but loses all data when closed.
//
// Open seeds the internal depth counter from the number of rows currently
// marked as pending (delivered = 0), so Depth() is accurate immediately
// after a crash-recovery restart.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a single
	// connection avoids "database is locked" errors when multiple sessions'
	// OnResultAction callbacks call Put concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM watched_results WHERE delivered = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: count pending rows: %w", err)
	}
	s.depth.Store(count)

	return s, nil
}

// ddl is the schema DDL, kept here to keep the package self-contained.
const ddl = `
CREATE TABLE IF NOT EXISTS watched_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT    NOT NULL,
    parent_path TEXT    NOT NULL,
    name        TEXT    NOT NULL,
    is_dir      INTEGER NOT NULL,
    result_type INTEGER NOT NULL,
    inconsistent INTEGER NOT NULL,
    actions     TEXT    NOT NULL DEFAULT '[]',
    recorded_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    delivered   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_watched_results_pending
    ON watched_results (delivered, id);
CREATE INDEX IF NOT EXISTS idx_watched_results_session
    ON watched_results (session, parent_path, name, is_dir);
`

// Put persists a WatchedResult observed by session to the local database.
// Each call to OnResultAction should call Put, so the same logical result
// (keyed by parent/name/is-dir) may be stored multiple times as its type
// evolves across a session's lifetime; the dashboard stores every delivered
// copy as its own row and does not collapse them.
func (s *Store) Put(ctx context.Context, session string, r reconcile.WatchedResult) error {
	actionsJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("store: marshal actions: %w", err)
	}

	isDir := 0
	if r.IsDir {
		isDir = 1
	}
	inconsistent := 0
	if r.Inconsistent {
		inconsistent = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO watched_results (session, parent_path, name, is_dir, result_type, inconsistent, actions)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session, r.ParentPath, r.Name, isDir, int(r.Type), inconsistent, string(actionsJSON),
	)
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}

	s.depth.Add(1)
	return nil
}

// PendingResult is an unacknowledged WatchedResult returned by Pending.
// ID is the database primary key used to acknowledge the result via Ack.
type PendingResult struct {
	ID        int64
	Session   string
	Result    reconcile.WatchedResult
	RecordedAt time.Time
}

// Pending returns up to n unacknowledged results in insertion order (oldest
// first). It does not mark results as delivered; call Ack with the returned
// IDs to do that. If n <= 0, Pending returns nil without querying the
// database.
func (s *Store) Pending(ctx context.Context, n int) ([]PendingResult, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session, parent_path, name, is_dir, result_type, inconsistent, actions, recorded_at
		 FROM   watched_results
		 WHERE  delivered = 0
		 ORDER  BY id
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: pending query: %w", err)
	}
	defer rows.Close()

	var out []PendingResult
	for rows.Next() {
		var (
			pr            PendingResult
			isDir         int
			resultType    int
			inconsistent  int
			actionsStr    string
			recordedAtStr string
		)
		if err := rows.Scan(&pr.ID, &pr.Session, &pr.Result.ParentPath, &pr.Result.Name,
			&isDir, &resultType, &inconsistent, &actionsStr, &recordedAtStr); err != nil {
			return nil, fmt.Errorf("store: pending scan: %w", err)
		}

		pr.Result.IsDir = isDir != 0
		pr.Result.Type = reconcile.ResultType(resultType)
		pr.Result.Inconsistent = inconsistent != 0
		if err := json.Unmarshal([]byte(actionsStr), &pr.Result.Actions); err != nil {
			pr.Result.Actions = nil
		}
		pr.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAtStr)
		if err != nil {
			pr.RecordedAt, _ = time.Parse("2006-01-02T15:04:05.000Z", recordedAtStr)
		}

		out = append(out, pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pending rows: %w", err)
	}
	return out, nil
}

// Ack marks the results identified by ids as delivered. Acknowledged results
// are excluded from subsequent Pending results. Ack is idempotent: calling
// it multiple times with the same IDs is safe.
func (s *Store) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE watched_results SET delivered = 1 WHERE id IN (%s) AND delivered = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("store: ack: %w", err)
	}

	n, _ := result.RowsAffected()
	s.depth.Add(-n)
	return nil
}

// Depth returns the number of pending (unacknowledged) results. It reads
// from an atomic counter updated by Put and Ack, so it never blocks.
func (s *Store) Depth() int {
	return int(s.depth.Load())
}

// Close closes the underlying database connection. Subsequent calls to any
// method are undefined; callers must not use the store after Close returns.
func (s *Store) Close() error {
	return s.db.Close()
}
