// Package liteqerr defines the error taxonomy shared across the broker.
package liteqerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds matched with errors.Is. Callers that need to branch on
// failure type should compare against these rather than parsing messages.
var (
	// ErrInvalidArgument covers malformed caller input: oversized batches
	// and nil payloads. Negative delays are clamped to zero, not rejected.
	ErrInvalidArgument = errors.New("liteq: invalid argument")

	// ErrConflict means id-generation retries were exhausted on a primary
	// key collision. Extremely rare given UUIDv7's entropy.
	ErrConflict = errors.New("liteq: id conflict")

	// ErrContention means the writer busy-timeout elapsed before the
	// engine could acquire its reservation.
	ErrContention = errors.New("liteq: writer contention")

	// ErrStoreCorruption means the schema or a row failed to parse.
	// Not recovered; surfaced as-is.
	ErrStoreCorruption = errors.New("liteq: store corruption")

	// ErrCancelled means a join wait or a put's id-conflict backoff was
	// interrupted by the caller's context. A cancelled Pop long-poll returns
	// no message and no error instead.
	ErrCancelled = errors.New("liteq: cancelled")
)

// wrapped pairs a sentinel kind with a message, so errors.Is(err, ErrX)
// keeps working after fmt.Errorf("...: %w", err) wrapping at call sites.
type wrapped struct {
	kind error
	msg  string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }

// InvalidArgument builds an ErrInvalidArgument with a specific message.
func InvalidArgument(format string, args ...any) error {
	return &wrapped{kind: ErrInvalidArgument, msg: fmt.Sprintf(format, args...)}
}

// Conflict builds an ErrConflict with a specific message.
func Conflict(format string, args ...any) error {
	return &wrapped{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// Contention builds an ErrContention with a specific message.
func Contention(format string, args ...any) error {
	return &wrapped{kind: ErrContention, msg: fmt.Sprintf(format, args...)}
}

// StoreCorruption builds an ErrStoreCorruption with a specific message.
func StoreCorruption(format string, args ...any) error {
	return &wrapped{kind: ErrStoreCorruption, msg: fmt.Sprintf(format, args...)}
}

// Cancelled builds an ErrCancelled with a specific message.
func Cancelled(format string, args ...any) error {
	return &wrapped{kind: ErrCancelled, msg: fmt.Sprintf(format, args...)}
}
