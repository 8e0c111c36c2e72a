/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TreeStore and generic.AuditLog on SQLite. The tree is
  stored as one row per leaf, keyed by its full path, so any subtree is a
  prefix range scan.

INTERFACES IMPLEMENTED:
  generic.TreeStore: Read / Write / BatchWrite over the leaves table
  generic.AuditLog:  Reconcile attempt history

KEY TABLES:
  tree_leaves: path -> JSON-encoded scalar (string, number, bool)
  scan_audit:  one row per reconcile attempt

ATOMICITY:
  Every Write and BatchWrite runs inside a single SQL transaction, so a
  batch is all-or-nothing and Atomic() reports true. A context deadline
  hit mid-batch rolls the transaction back and surfaces ErrStoreTimeout.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, which
  also keeps ":memory:" databases shared across calls.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := attendance.NewEngine(attendance.EngineConfig{Store: store, ...})

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/generic"
)

// Store implements generic.TreeStore and generic.AuditLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.TreeStore = (*Store)(nil)
	_ generic.AuditLog  = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Tree leaves (one row per scalar value)
	CREATE TABLE IF NOT EXISTS tree_leaves (
		path TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Reconcile attempt history (append-only)
	CREATE TABLE IF NOT EXISTS scan_audit (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		outcome TEXT,
		error TEXT,
		session_key TEXT,
		location TEXT,
		attempts INTEGER DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_scan_audit_user
		ON scan_audit(user_id, at DESC);
	CREATE INDEX IF NOT EXISTS idx_scan_audit_at
		ON scan_audit(at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TREE STORE (generic.TreeStore interface)
// =============================================================================

// Atomic is true: batches commit in one SQL transaction.
func (s *Store) Atomic() bool { return true }

// Read assembles the subtree at path from its leaves.
func (s *Store) Read(ctx context.Context, path string) (any, error) {
	if err := generic.ValidatePath(path); err != nil {
		return nil, err
	}
	path = generic.Join(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if path == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, value_json FROM tree_leaves ORDER BY path`)
	} else {
		lo, hi := subtreeRange(path)
		rows, err = s.db.QueryContext(ctx, `
			SELECT path, value_json FROM tree_leaves
			WHERE path = ? OR (path >= ? AND path < ?)
			ORDER BY path`,
			path, lo, hi,
		)
	}
	if err != nil {
		return nil, generic.FromContext(fmt.Errorf("failed to read %q: %w", path, err))
	}
	defer rows.Close()

	var root any
	found := false
	for rows.Next() {
		var leafPath, raw string
		if err := rows.Scan(&leafPath, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan leaf: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to decode leaf %q: %w", leafPath, err)
		}
		found = true

		if leafPath == path {
			return value, nil
		}
		rel := strings.TrimPrefix(leafPath, path)
		rel = strings.TrimPrefix(rel, "/")
		root = insertLeaf(root, generic.Split(rel), value)
	}
	if err := rows.Err(); err != nil {
		return nil, generic.FromContext(err)
	}
	if !found {
		return nil, nil
	}
	return root, nil
}

// subtreeRange bounds every path below path under BINARY collation, which
// compares bytes. '0' is the byte after '/'.
func subtreeRange(path string) (lo, hi string) {
	return path + "/", path + "0"
}

// Write replaces the subtree at path.
func (s *Store) Write(ctx context.Context, path string, value any) error {
	var b generic.Batch
	b.Set(path, value)
	return s.BatchWrite(ctx, b)
}

// BatchWrite applies the batch in one SQL transaction.
func (s *Store) BatchWrite(ctx context.Context, batch generic.Batch) error {
	normalized, err := batch.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.FromContext(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, u := range normalized.Updates {
		if err := s.replaceSubtree(ctx, sqlTx, u.Path, u.Value, now); err != nil {
			return generic.FromContext(err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return generic.FromContext(fmt.Errorf("failed to commit batch: %w", err))
	}
	return nil
}

func (s *Store) replaceSubtree(ctx context.Context, tx *sql.Tx, path string, value any, now string) error {
	lo, hi := subtreeRange(path)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tree_leaves WHERE path = ? OR (path >= ? AND path < ?)`,
		path, lo, hi,
	); err != nil {
		return fmt.Errorf("failed to clear %q: %w", path, err)
	}

	// A leaf stored at an ancestor would shadow the new subtree.
	segs := generic.Split(path)
	for i := 1; i < len(segs); i++ {
		ancestor := strings.Join(segs[:i], "/")
		if _, err := tx.ExecContext(ctx, `DELETE FROM tree_leaves WHERE path = ?`, ancestor); err != nil {
			return fmt.Errorf("failed to clear ancestor %q: %w", ancestor, err)
		}
	}

	var insertErr error
	generic.Flatten(path, value, func(leafPath string, leaf any) {
		if insertErr != nil {
			return
		}
		raw, err := json.Marshal(leaf)
		if err != nil {
			insertErr = fmt.Errorf("failed to encode leaf %q: %w", leafPath, err)
			return
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tree_leaves (path, value_json, updated_at) VALUES (?, ?, ?)`,
			leafPath, string(raw), now,
		); err != nil {
			insertErr = fmt.Errorf("failed to write leaf %q: %w", leafPath, err)
		}
	})
	return insertErr
}

func insertLeaf(node any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, ok := node.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	m[segs[0]] = insertLeaf(m[segs[0]], segs[1:], value)
	return m
}

// Reset deletes every leaf. Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM tree_leaves`)
	return err
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

// auditTimeLayout has a fixed width so timestamps sort as text.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Append records one reconcile attempt.
func (s *Store) Append(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_audit (id, at, user_id, mode, outcome, error, session_key, location, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.At.UTC().Format(auditTimeLayout),
		e.UserID,
		e.Mode,
		nullString(e.Outcome),
		nullString(e.Error),
		nullString(e.SessionKey),
		nullString(e.Location),
		e.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns audit entries newest first.
func (s *Store) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, at, user_id, mode, outcome, error, session_key, location, attempts
		FROM scan_audit WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if !filter.From.IsZero() {
		query += ` AND at >= ?`
		args = append(args, filter.From.UTC().Format(auditTimeLayout))
	}
	if !filter.To.IsZero() {
		query += ` AND at <= ?`
		args = append(args, filter.To.UTC().Format(auditTimeLayout))
	}
	query += ` ORDER BY at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var e generic.AuditEntry
		var at string
		var outcome, errText, sessionKey, location sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.UserID, &e.Mode, &outcome, &errText, &sessionKey, &location, &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At, _ = time.Parse(auditTimeLayout, at)
		e.Outcome = outcome.String
		e.Error = errText.String
		e.SessionKey = sessionKey.String
		e.Location = location.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
