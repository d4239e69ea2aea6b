package liteq

import (
	"context"
	"fmt"
)

// Consume is the scoped-acquisition session facade. It leases a message
// with Pop (using the given PopOptions, or the consume defaults of
// InvisibleFor=60s/WaitFor=20s if none override them) and guarantees that
// exactly one of Delete or ProcessFailed is invoked on every exit path:
//
//   - fn returns nil: Delete (ACK).
//   - fn returns a non-nil error: ProcessFailed with that error's message
//     (NACK), then the error is returned unchanged.
//   - fn panics: ProcessFailed with the panic value, then the panic is
//     re-raised.
//
// If Pop yields no message (handled is false), fn is never called and both
// exits are no-ops.
//
// The ACK/NACK call itself runs against a detached context so that a
// caller-context cancellation during fn's body — the very case this
// guarantee exists for — doesn't also block the cleanup call.
func (e *Engine) Consume(ctx context.Context, fn func(*Message) error, opts ...PopOption) (handled bool, err error) {
	msg, err := e.Pop(ctx, opts...)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	// Ack/nack run against a detached background context rather than ctx:
	// the store's own busy-timeout already bounds how long these wait, and
	// a caller-context cancellation during fn's body is exactly the case
	// this guarantee exists for, so cleanup must not inherit it.
	defer func() {
		if r := recover(); r != nil {
			_ = e.ProcessFailed(context.Background(), msg, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if ferr := fn(msg); ferr != nil {
		_ = e.ProcessFailed(context.Background(), msg, ferr.Error())
		return true, ferr
	}

	if derr := e.Delete(context.Background(), msg.ID); derr != nil {
		return true, derr
	}
	return true, nil
}
