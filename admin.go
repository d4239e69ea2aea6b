package liteq

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/unkloud/liteq/liteqerr"
)

// QSize returns the approximate count of rows in messages for queue,
// regardless of visibility. The count is snapshotted under a read
// transaction; concurrent activity may make it stale immediately.
func (e *Engine) QSize(ctx context.Context, queue string) (int, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	var n int
	err := e.store.WithReadTxn(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE queue_name = ?`, queue).Scan(&n)
	})
	return n, err
}

// VisibleSize returns the count of rows in queue that are currently
// eligible for Pop (visible_after <= now), as distinct from QSize's
// all-rows count.
func (e *Engine) VisibleSize(ctx context.Context, queue string) (int, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	var n int
	err := e.store.WithReadTxn(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE queue_name = ? AND visible_after <= ?`,
			queue, now(),
		).Scan(&n)
	})
	return n, err
}

// Empty reports whether no row in queue is currently visible.
func (e *Engine) Empty(ctx context.Context, queue string) (bool, error) {
	n, err := e.VisibleSize(ctx, queue)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Clear deletes every row in messages for queue. When dlq is true it also
// deletes that queue's dead-letter rows.
func (e *Engine) Clear(ctx context.Context, queue string, dlq bool) error {
	if queue == "" {
		queue = DefaultQueue
	}
	return e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM messages WHERE queue_name = ?`, queue); err != nil {
			return err
		}
		if dlq {
			if _, err := conn.ExecContext(ctx, `DELETE FROM dlq WHERE queue_name = ?`, queue); err != nil {
				return err
			}
		}
		return nil
	})
}

// Join blocks until Empty(queue) is true, polling at the engine's
// configured poll interval. It returns liteqerr.ErrCancelled if ctx is
// cancelled before the queue drains.
func (e *Engine) Join(ctx context.Context, queue string) error {
	for {
		empty, err := e.Empty(ctx, queue)
		if err != nil {
			return err
		}
		if empty {
			return nil
		}
		if !sleepOrDone(ctx, e.pollInterval) {
			return liteqerr.Cancelled("join: cancelled waiting for queue %q to drain", queue)
		}
	}
}

// Redrive moves every dead-letter row for queue back into messages with
// RetryCount reset to zero and immediately visible. It returns the number
// of rows moved.
func (e *Engine) Redrive(ctx context.Context, queue string) (int, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	var moved int
	err := e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
		nowSec := now()
		rows, err := conn.QueryContext(ctx, `SELECT id, data FROM dlq WHERE queue_name = ?`, queue)
		if err != nil {
			return err
		}
		type row struct {
			id   string
			data []byte
		}
		var toRedrive []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.data); err != nil {
				rows.Close()
				return err
			}
			toRedrive = append(toRedrive, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, r := range toRedrive {
			if _, err := conn.ExecContext(ctx,
				`INSERT INTO messages (id, queue_name, data, visible_after, retry_count, created_at)
				 VALUES (?, ?, ?, ?, 0, ?)`,
				r.id, queue, r.data, nowSec, nowSec,
			); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM dlq WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
		moved = len(toRedrive)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		e.log.Info("liteq: redrive", slog.String("queue", queue), slog.Int("count", moved))
	}
	return moved, nil
}

// ListDLQ returns up to limit dead-letter rows for queue, oldest failure
// first, for inspection before a Redrive. limit <= 0 defaults to 100.
func (e *Engine) ListDLQ(ctx context.Context, queue string, limit int) ([]DLQRecord, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if limit <= 0 {
		limit = 100
	}

	var records []DLQRecord
	err := e.store.WithReadTxn(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, queue_name, data, failed_at, reason FROM dlq
			 WHERE queue_name = ? ORDER BY failed_at ASC LIMIT ?`,
			queue, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec DLQRecord
			var failedAt int64
			if err := rows.Scan(&rec.ID, &rec.QueueName, &rec.Data, &failedAt, &rec.Reason); err != nil {
				return err
			}
			rec.FailedAt = time.Unix(failedAt, 0).UTC()
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// Stats returns a single read-transaction snapshot of queue's size,
// visible size, and dead-letter size, for monitoring callers that want all
// three counts without racing against separate calls.
func (e *Engine) Stats(ctx context.Context, queue string) (Stats, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	stats := Stats{QueueName: queue}
	err := e.store.WithReadTxn(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE queue_name = ?`, queue).Scan(&stats.Size); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE queue_name = ? AND visible_after <= ?`, queue, now(),
		).Scan(&stats.VisibleSize); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq WHERE queue_name = ?`, queue).Scan(&stats.DLQSize)
	})
	return stats, err
}
