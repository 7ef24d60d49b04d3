// Package ledger provides the durable set of delivered run keys.
//
// Each namespace (live vs dry-run, optionally suffixed for isolated test
// execution) is a separate SQLite database file, so the two modes can
// never observe each other's entries. Entries accumulate monotonically;
// nothing in this package removes or rewrites a delivered key.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Ledger records run keys whose delivery the metrics API has confirmed.
type Ledger struct {
	db   *sql.DB
	path string
}

// Namespace derives the database filename for a run mode.
//
// This is the only way callers select a ledger file: the name is a pure
// function of the mode and an optional isolation suffix (used by tests),
// never a caller-arbitrary path. Keeping dry-run accounting in its own
// file is what prevents a rehearsal from marking real deliveries.
func Namespace(dryRun bool, suffix string) string {
	name := "live"
	if dryRun {
		name = "dryrun"
	}
	if suffix != "" {
		name += "-" + suffix
	}
	return name + ".db"
}

// Open creates or opens the ledger database for a namespace inside dir.
// The directory and database are created if absent. Idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode: MarkDelivered must be durable before it
//     returns, since a crash after a confirmed delivery but before the
//     ledger write would re-submit the batch on the next run
//   - 5-second busy timeout for lock contention
func Open(dir, namespace string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	path := filepath.Join(dir, namespace)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path returns the backing database file path.
func (l *Ledger) Path() string {
	return l.path
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Contains reports whether key was previously confirmed via MarkDelivered.
//
// A missing key is not an error. A read failure is returned to the caller;
// the documented recovery policy is fail open (treat unreadable as not yet
// delivered), but the caller owns logging that decision, so the raw error
// surfaces here.
func (l *Ledger) Contains(ctx context.Context, key string) (bool, error) {
	var found int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM deliveries WHERE run_key = ?`, key,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger read: %w", err)
	}
	return true, nil
}

// MarkDelivered inserts the given keys as delivered in one transaction.
// Uses ON CONFLICT(run_key) DO NOTHING for idempotency - re-inserting an
// already delivered key is a no-op. The write is durable (synchronous
// commit) before this returns.
func (l *Ledger) MarkDelivered(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger write: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deliveries (run_key)
		VALUES (?)
		ON CONFLICT(run_key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("ledger write: prepare: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key); err != nil {
			return fmt.Errorf("ledger write %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger write: commit: %w", err)
	}

	return nil
}

// FilterUndelivered returns the subsequence of keys (preserving input
// order) not yet present in the ledger. Read-only.
func (l *Ledger) FilterUndelivered(ctx context.Context, keys []string) ([]string, error) {
	undelivered := make([]string, 0, len(keys))
	for _, key := range keys {
		delivered, err := l.Contains(ctx, key)
		if err != nil {
			return nil, err
		}
		if !delivered {
			undelivered = append(undelivered, key)
		}
	}
	return undelivered, nil
}

// Count returns the number of delivered keys.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger read: %w", err)
	}
	return count, nil
}

// Keys returns all delivered keys in insertion-independent sorted order.
// Used by the CLI inspection command; the coordinator never needs this.
func (l *Ledger) Keys(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_key FROM deliveries
		ORDER BY run_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger read: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("ledger read: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger read: %w", err)
	}

	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}
