// Package db is the content store: actors, blogs, append-only version
// history, approvals, review audit, escalations, evaluation runs with
// their score rows, and rewrite cycles. Write-once semantics are enforced
// at the storage layer by triggers in schema.go; this package maps SQLite
// errors onto the fault kinds callers branch on.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/redline/internal/fault"
	"github.com/hazyhaar/redline/pkg/trace"
)

type DB struct {
	*sql.DB
	tracer *trace.Store
}

func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{sqlDB, nil}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.DB.Exec(schema)
	return err
}

// SetTracer turns on SQL tracing: every Exec/Query through this handle is
// recorded with its duration.
func (db *DB) SetTracer(t *trace.Store) {
	db.tracer = t
}

// Exec shadows the embedded handle to time and trace statements.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := db.DB.Exec(query, args...)
	if db.tracer != nil {
		db.tracer.Record(context.Background(), "Exec", query, time.Since(start), err)
	}
	return res, err
}

// Query shadows the embedded handle to time and trace queries.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.DB.Query(query, args...)
	if db.tracer != nil {
		db.tracer.Record(context.Background(), "Query", query, time.Since(start), err)
	}
	return rows, err
}

// mapErr translates storage-level errors into fault kinds: UNIQUE races
// become conflict, trigger aborts (our RAISE messages carry the
// "immutable:" prefix) become internal, CHECK and FK violations become
// validation, everything else surfaces as unavailable.
func mapErr(err error, context string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return fault.Wrap(fault.Conflict, err, "%s", context)
	case strings.Contains(msg, "immutable:"):
		return fault.Wrap(fault.Internal, err, "%s", context)
	case strings.Contains(msg, "CHECK constraint"), strings.Contains(msg, "FOREIGN KEY constraint"):
		return fault.Wrap(fault.Validation, err, "%s", context)
	default:
		return fault.Wrap(fault.Unavailable, err, "%s", context)
	}
}
