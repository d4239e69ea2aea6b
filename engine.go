// Package liteq is an embedded, persistent, multi-queue message broker
// backed by a single SQLite file. It offers SQS-style semantics: producers
// enqueue opaque binary payloads, consumers lease messages with a
// visibility timeout, unacknowledged leases reappear, and messages that
// exceed a retry budget are diverted to a dead-letter queue.
//
// liteq is in-process only: there is no network transport, no worker
// supervision, and no payload serialization. Callers own all of that;
// liteq owns the two tables and the lease protocol on top of them.
package liteq

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/unkloud/liteq/internal/store"
)

// DefaultQueue is the queue_name used when a caller doesn't specify one.
const DefaultQueue = "default"

const (
	defaultMaxRetries         = 5
	defaultBusyTimeout        = 5 * time.Second
	defaultPollInterval       = 50 * time.Millisecond
	defaultInvisibleOnReceive = 60 * time.Second
	defaultWaitSeconds        = 20 * time.Second
	defaultConflictRetries    = 3
	defaultConflictPause      = 100 * time.Millisecond
	maxBatchSize              = 50
)

// Engine is a handle onto one broker database. An instance owns one store
// handle; multiple instances pointing at the same file are valid and
// interoperate through the store's own file locking, and one instance may
// be shared freely across goroutines.
type Engine struct {
	store        *store.Store
	log          *slog.Logger
	maxRetries   int
	busyTimeout  time.Duration
	pollInterval time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxRetries sets the retry budget: a message is diverted to the
// dead-letter queue once it has been delivered n+1 times without being
// acknowledged. Default 5.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithBusyTimeout sets how long a writer waits for its reservation before
// the store surfaces liteqerr.ErrContention. Default 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.busyTimeout = d }
}

// WithPollInterval sets the sleep quantum used by the pop and join poll
// loops (pause_on_empty_fetch in spec terms). Default 50ms.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithLogger injects a structured logger. The engine never calls
// slog.SetDefault or configures handlers itself, so embedding liteq in a
// host application never touches that application's root logger
// configuration. Defaults to slog.Default() when not set.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Open opens (or creates) the database file at path, applies the schema,
// and returns a ready-to-use Engine.
func Open(path string, opts ...Option) (*Engine, error) {
	e := &Engine{
		maxRetries:   defaultMaxRetries,
		busyTimeout:  defaultBusyTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}

	st, err := store.Open(path, e.busyTimeout, e.log)
	if err != nil {
		return nil, err
	}
	e.store = st
	return e, nil
}

// Close releases the underlying database connections.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Path returns the database file path this engine was opened against.
func (e *Engine) Path() string {
	return e.store.Path()
}

// now returns the current UTC time truncated to whole seconds, per spec:
// "Implementers must truncate, not round."
func now() int64 {
	return time.Now().UTC().Unix()
}

// sleepOrDone blocks for d or until ctx is done, whichever comes first.
// It reports whether the sleep completed in full (false means ctx fired).
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// isConstraintViolation reports whether err came from a primary-key
// collision on insert, as opposed to some other store failure.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}
