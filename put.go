package liteq

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/unkloud/liteq/internal/idgen"
	"github.com/unkloud/liteq/liteqerr"
)

// PutOptions configures Put and PutBatch.
type PutOptions struct {
	Queue             string
	VisibleAfter      time.Duration
	RetriesOnConflict int
	PauseOnConflict   time.Duration
}

// PutOption mutates a PutOptions.
type PutOption func(*PutOptions)

// WithQueue selects the logical partition for the message(s). Default
// DefaultQueue.
func WithQueue(name string) PutOption {
	return func(o *PutOptions) { o.Queue = name }
}

// WithDelay makes the message ineligible for pop until d has elapsed.
// Negative values are clamped to zero.
func WithDelay(d time.Duration) PutOption {
	return func(o *PutOptions) { o.VisibleAfter = d }
}

// WithConflictRetries overrides how many times a put retries a regenerated
// id after a primary-key collision, and how long it pauses between
// attempts. Defaults are 3 retries, 100ms pause.
func WithConflictRetries(n int, pause time.Duration) PutOption {
	return func(o *PutOptions) { o.RetriesOnConflict = n; o.PauseOnConflict = pause }
}

func resolvePutOptions(opts []PutOption) PutOptions {
	o := PutOptions{
		Queue:             DefaultQueue,
		RetriesOnConflict: defaultConflictRetries,
		PauseOnConflict:   defaultConflictPause,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.VisibleAfter < 0 {
		o.VisibleAfter = 0
	}
	return o
}

// Put enqueues a single opaque payload and returns its id. On a primary-key
// collision (vanishingly rare given UUIDv7's entropy) it regenerates the id
// and retries up to RetriesOnConflict times, pausing PauseOnConflict
// between attempts; data is never partially stored. Exhausting the retry
// budget surfaces liteqerr.ErrConflict.
func (e *Engine) Put(ctx context.Context, data []byte, opts ...PutOption) (string, error) {
	if data == nil {
		return "", liteqerr.InvalidArgument("put: data must not be nil")
	}
	o := resolvePutOptions(opts)

	nowSec := now()
	visibleAfter := nowSec + int64(o.VisibleAfter/time.Second)

	var id string
	attempt := 0
	for {
		candidate, err := idgen.New()
		if err != nil {
			return "", err
		}

		err = e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx,
				`INSERT INTO messages (id, queue_name, data, visible_after, retry_count, created_at)
				 VALUES (?, ?, ?, ?, 0, ?)`,
				candidate, o.Queue, data, visibleAfter, nowSec,
			)
			return err
		})
		if err == nil {
			id = candidate
			break
		}
		if !isConstraintViolation(err) {
			return "", err
		}
		attempt++
		if attempt > o.RetriesOnConflict {
			return "", liteqerr.Conflict("put: exhausted %d id-conflict retries", o.RetriesOnConflict)
		}
		e.log.Debug("liteq: id collision, regenerating", slog.String("queue", o.Queue), slog.Int("attempt", attempt))
		if !sleepOrDone(ctx, o.PauseOnConflict) {
			return "", liteqerr.Cancelled("put: cancelled while backing off from id conflict")
		}
	}

	return id, nil
}

// PutBatch enqueues up to 50 payloads in a single writer transaction. The
// operation is all-or-nothing: if any generated id collides, the whole
// transaction rolls back and the batch retries (with freshly generated
// ids) up to RetriesOnConflict times. Returned ids correspond position-for-
// position with the input slice.
func (e *Engine) PutBatch(ctx context.Context, datas [][]byte, opts ...PutOption) ([]string, error) {
	if len(datas) == 0 {
		return nil, nil
	}
	if len(datas) > maxBatchSize {
		return nil, liteqerr.InvalidArgument("put_batch: %d items exceeds max of %d", len(datas), maxBatchSize)
	}
	for i, d := range datas {
		if d == nil {
			return nil, liteqerr.InvalidArgument("put_batch: item %d has nil data", i)
		}
	}

	o := resolvePutOptions(opts)
	nowSec := now()
	visibleAfter := nowSec + int64(o.VisibleAfter/time.Second)

	attempt := 0
	for {
		ids := make([]string, len(datas))
		for i := range ids {
			id, err := idgen.New()
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}

		err := e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
			query := `INSERT INTO messages (id, queue_name, data, visible_after, retry_count, created_at) VALUES `
			args := make([]any, 0, len(datas)*5)
			for i, d := range datas {
				if i > 0 {
					query += ", "
				}
				query += "(?, ?, ?, ?, 0, ?)"
				args = append(args, ids[i], o.Queue, d, visibleAfter, nowSec)
			}
			_, err := conn.ExecContext(ctx, query, args...)
			return err
		})
		if err == nil {
			return ids, nil
		}
		if !isConstraintViolation(err) {
			return nil, err
		}
		attempt++
		if attempt > o.RetriesOnConflict {
			return nil, liteqerr.Conflict("put_batch: exhausted %d id-conflict retries", o.RetriesOnConflict)
		}
		e.log.Debug("liteq: batch id collision, regenerating", slog.String("queue", o.Queue), slog.Int("attempt", attempt))
		if !sleepOrDone(ctx, o.PauseOnConflict) {
			return nil, liteqerr.Cancelled("put_batch: cancelled while backing off from id conflict")
		}
	}
}
