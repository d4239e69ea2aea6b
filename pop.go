package liteq

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// PopOptions configures Pop and Consume.
type PopOptions struct {
	Queue        string
	InvisibleFor time.Duration
	WaitFor      time.Duration
	PollInterval time.Duration
}

// PopOption mutates a PopOptions.
type PopOption func(*PopOptions)

// WithPopQueue selects which logical partition to lease from. Default
// DefaultQueue.
func WithPopQueue(name string) PopOption {
	return func(o *PopOptions) { o.Queue = name }
}

// WithInvisibleFor sets the visibility timeout applied to the leased
// message. Default 60s.
func WithInvisibleFor(d time.Duration) PopOption {
	return func(o *PopOptions) { o.InvisibleFor = d }
}

// WithWaitFor bounds how long Pop long-polls an empty queue before
// returning a nil message. Zero means return immediately. Default 20s.
func WithWaitFor(d time.Duration) PopOption {
	return func(o *PopOptions) { o.WaitFor = d }
}

// WithPopInterval overrides the engine's poll quantum for one call.
func WithPopInterval(d time.Duration) PopOption {
	return func(o *PopOptions) { o.PollInterval = d }
}

func (e *Engine) resolvePopOptions(opts []PopOption) PopOptions {
	o := PopOptions{
		Queue:        DefaultQueue,
		InvisibleFor: defaultInvisibleOnReceive,
		WaitFor:      defaultWaitSeconds,
		PollInterval: e.pollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.PollInterval <= 0 {
		o.PollInterval = e.pollInterval
	}
	return o
}

// Pop leases the next eligible message from a queue. It returns (nil, nil)
// when no message became available within WaitFor — the spec's "none"
// absence indicator — and a non-nil error only on a genuine store failure
// or an exhausted writer busy-timeout. A message is eligible if its
// visible_after has elapsed; among eligible rows, the oldest visible_after
// wins, ties broken by created_at.
//
// If the head-of-queue row has already exceeded the retry budget — meaning
// max_retries+1 deliveries have already been attempted — Pop moves it to
// the dead-letter queue and keeps searching within the same call rather
// than returning none while a deliverable message might still exist
// behind it.
func (e *Engine) Pop(ctx context.Context, opts ...PopOption) (*Message, error) {
	o := e.resolvePopOptions(opts)

	msg, err := e.popAttempt(ctx, o.Queue, o.InvisibleFor)
	if err != nil || msg != nil {
		return msg, err
	}
	if o.WaitFor <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(o.WaitFor)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil, nil
		}
		e.log.Debug("liteq: empty poll", slog.String("queue", o.Queue))
		if !sleepOrDone(ctx, o.PollInterval) {
			return nil, nil
		}
		msg, err = e.popAttempt(ctx, o.Queue, o.InvisibleFor)
		if err != nil || msg != nil {
			return msg, err
		}
	}
	return nil, nil
}

// popAttempt performs one (or, across DLQ diversions, several) writer
// transaction(s) and returns the leased message, or (nil, nil) once the
// queue has no deliverable row left.
func (e *Engine) popAttempt(ctx context.Context, queue string, invisibleFor time.Duration) (*Message, error) {
	for {
		var msg *Message
		var diverted bool

		err := e.store.WithWriteTxn(ctx, func(conn *sql.Conn) error {
			nowSec := now()

			var id string
			var data []byte
			var retryCount int
			var createdAt int64
			row := conn.QueryRowContext(ctx,
				`SELECT id, data, retry_count, created_at FROM messages
				 WHERE queue_name = ? AND visible_after <= ?
				 ORDER BY visible_after ASC, created_at ASC LIMIT 1`,
				queue, nowSec,
			)
			if err := row.Scan(&id, &data, &retryCount, &createdAt); err != nil {
				if err == sql.ErrNoRows {
					return nil
				}
				return err
			}

			if retryCount > e.maxRetries {
				if _, err := conn.ExecContext(ctx,
					`INSERT INTO dlq (id, queue_name, data, failed_at, reason) VALUES (?, ?, ?, ?, ?)`,
					id, queue, data, nowSec, "max retries exceeded",
				); err != nil {
					return err
				}
				if _, err := conn.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
					return err
				}
				diverted = true
				return nil
			}

			newRetry := retryCount + 1
			newVisible := nowSec + int64(invisibleFor/time.Second)
			if _, err := conn.ExecContext(ctx,
				`UPDATE messages SET visible_after = ?, retry_count = ? WHERE id = ?`,
				newVisible, newRetry, id,
			); err != nil {
				return err
			}

			msg = &Message{
				ID:         id,
				Data:       data,
				QueueName:  queue,
				RetryCount: newRetry,
				CreatedAt:  time.Unix(createdAt, 0).UTC(),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if diverted {
			e.log.Info("liteq: message diverted to dlq", slog.String("queue", queue), slog.String("reason", "max retries exceeded"))
			continue
		}
		return msg, nil
	}
}

// Peek returns the next eligible message without leasing it. It does not
// mutate visible_after or retry_count and runs under a read transaction.
func (e *Engine) Peek(ctx context.Context, queue string) (*Message, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	var msg *Message
	err := e.store.WithReadTxn(ctx, func(tx *sql.Tx) error {
		nowSec := now()
		var id string
		var data []byte
		var retryCount int
		var createdAt int64
		row := tx.QueryRowContext(ctx,
			`SELECT id, data, retry_count, created_at FROM messages
			 WHERE queue_name = ? AND visible_after <= ?
			 ORDER BY visible_after ASC, created_at ASC LIMIT 1`,
			queue, nowSec,
		)
		if err := row.Scan(&id, &data, &retryCount, &createdAt); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		msg = &Message{
			ID:         id,
			Data:       data,
			QueueName:  queue,
			RetryCount: retryCount,
			CreatedAt:  time.Unix(createdAt, 0).UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}
