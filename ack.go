package liteq

import (
	"context"
	"database/sql"
	"log/slog"
)

// Delete acknowledges a message, removing its row from any queue. It is a
// silent no-op if the row is already absent — the expected outcome when a
// slow worker's ACK arrives after the lease expired and a peer already
// processed (and deleted) the row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
		return err
	})
}

// ProcessFailed is the NACK path. If msg.RetryCount has already exceeded
// the retry budget — this delivery was the max_retries+1-th attempt — the
// row is moved to the dead-letter queue with reason; otherwise it is made
// immediately eligible again (RetryCount is left as it was set by the
// earlier Pop). The call is a no-op if the row no longer exists, which
// happens when a lease already expired and a peer took over.
func (e *Engine) ProcessFailed(ctx context.Context, msg *Message, reason string) error {
	if msg == nil {
		return nil
	}

	var diverted bool
	err := e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
		nowSec := now()

		if msg.RetryCount > e.maxRetries {
			res, err := conn.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, msg.ID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return nil
			}
			if _, err := conn.ExecContext(ctx,
				`INSERT INTO dlq (id, queue_name, data, failed_at, reason) VALUES (?, ?, ?, ?, ?)`,
				msg.ID, msg.QueueName, msg.Data, nowSec, reason,
			); err != nil {
				return err
			}
			diverted = true
			return nil
		}

		_, err := conn.ExecContext(ctx, `UPDATE messages SET visible_after = ? WHERE id = ?`, nowSec, msg.ID)
		return err
	})
	if err != nil {
		return err
	}
	if diverted {
		e.log.Info("liteq: message diverted to dlq",
			slog.String("queue", msg.QueueName), slog.String("id", msg.ID), slog.String("reason", reason))
	}
	return nil
}
