// Package store is the SQLite-backed persistence layer for the broker. It
// owns the database file, the schema, and the two transaction primitives
// (WithWriteTxn / WithReadTxn) the queue engine builds its lease protocol
// on top of.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unkloud/liteq/liteqerr"

	_ "modernc.org/sqlite" // registers the "sqlite" driver with database/sql
)

// schema is applied idempotently on every Open. CREATE TABLE/INDEX IF NOT
// EXISTS makes repeated application safe across process restarts that all
// point at the same file.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	queue_name     TEXT NOT NULL DEFAULT 'default',
	data           BLOB NOT NULL,
	visible_after  INTEGER NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_eligibility
	ON messages (queue_name, visible_after, created_at);

CREATE TABLE IF NOT EXISTS dlq (
	id          TEXT PRIMARY KEY,
	queue_name  TEXT NOT NULL DEFAULT 'default',
	data        BLOB NOT NULL,
	failed_at   INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_dlq_queue ON dlq (queue_name);
`

// Store opens a single SQLite file with write-ahead logging and exposes the
// writer-reservation and shared-read transaction primitives. Two separate
// *sql.DB pools are kept against the same file: a single-connection writer
// pool so BEGIN IMMEDIATE reservations serialize in this process the same
// way the store's own file locking serializes them across processes, and an
// unbounded reader pool so peek/qsize/empty never wait behind a writer.
type Store struct {
	path        string
	writeDB     *sql.DB
	readDB      *sql.DB
	busyTimeout time.Duration
	log         *slog.Logger
}

// Open creates the database file if missing, applies the schema, and
// configures WAL mode plus the given busy timeout. busyTimeout bounds how
// long a writer-reservation attempt waits under contention before the store
// surfaces liteqerr.ErrContention.
func Open(path string, busyTimeout time.Duration, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := fmt.Sprintf(
		"%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds(),
	)

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open writer pool: %w", err)
	}
	// A single writer connection makes BEGIN IMMEDIATE/COMMIT/ROLLBACK on
	// that connection equivalent to holding the store's writer reservation;
	// the next writer simply waits for the connection to free up.
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("store: open reader pool: %w", err)
	}

	if err := writeDB.Ping(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if _, err := writeDB.Exec(schema); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		log.Error("liteq: store corruption", slog.String("error", err.Error()))
		return nil, liteqerr.StoreCorruption("store: apply schema: %v", err)
	}

	return &Store{
		path:        path,
		writeDB:     writeDB,
		readDB:      readDB,
		busyTimeout: busyTimeout,
		log:         log,
	}, nil
}

// Path returns the database file path this store was opened against.
func (s *Store) Path() string { return s.path }

// BusyTimeout returns the busy timeout this store was opened with.
func (s *Store) BusyTimeout() time.Duration { return s.busyTimeout }

// WithWriteTxn begins a writer-reserving (BEGIN IMMEDIATE) transaction,
// invokes fn with the connection, commits on clean return, and rolls back
// on any error from fn. The writer connection is released on every exit
// path, including a panic unwinding through fn.
func (s *Store) WithWriteTxn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.writeDB.Conn(ctx)
	if err != nil {
		return s.classifyTxnErr(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return s.classifyTxnErr(err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return s.classifyTxnErr(err)
	}
	committed = true
	return nil
}

// WithReadTxn runs fn inside a read-only transaction against the reader
// pool. Multiple readers may run concurrently with each other and with the
// single writer thanks to WAL mode.
func (s *Store) WithReadTxn(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return s.classifyTxnErr(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// classifyTxnErr maps a driver-level busy/locked error onto
// liteqerr.ErrContention so callers can decide whether to retry, leaving
// every other error unchanged. Contention is logged at DEBUG before
// classification, per the observability spec's treatment of lease
// contention as an at-risk, not a failure, event.
func (s *Store) classifyTxnErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") || strings.Contains(msg, "SQLITE_BUSY") {
		s.log.Debug("liteq: writer contention", slog.String("error", msg))
		return liteqerr.Contention("store: writer reservation timed out: %v", err)
	}
	return err
}

// Close checkpoints the WAL and closes both connection pools.
func (s *Store) Close() error {
	_, _ = s.writeDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
