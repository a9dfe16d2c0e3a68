// Package storage is the Postgres-backed persistence layer (spec §6
// "Persistence layout"). It provides concrete implementations of
// internal/tariff.Repo, internal/override.ManualRepo/ScheduleRepo, and
// a recommendation audit log, all sharing one *sql.DB.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the shared connection pool and applies the schema.
type DB struct {
	conn *sql.DB
}

// Open connects to Postgres and applies schema.sql. Connection
// retries are the caller's responsibility (spec §7 "unrecoverable
// startup failure" is a bounded-retry-then-fail condition at the
// process boundary, not inside this package).
func Open(connString string) (*DB, error) {
	conn, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the underlying connection pool can reach
// Postgres, for the health endpoint (spec §7 health check).
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
