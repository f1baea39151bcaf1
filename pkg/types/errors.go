package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors so clients can decide whether to retry,
// resend, or abandon the session. Kinds travel on protocol error frames.
type ErrorKind string

const (
	// KindOutOfOrderChunk means a chunk index was not the immediate
	// successor of the last appended index. Recoverable: resend in order.
	KindOutOfOrderChunk ErrorKind = "out_of_order_chunk"

	// KindBufferOverflow means appending would exceed the buffer capacity
	// before unflushed audio could be transcribed. Recoverable: slow down.
	KindBufferOverflow ErrorKind = "buffer_overflow"

	// KindWorkerPoolSaturated means the capability pool's queue was full.
	// Recoverable: transient backpressure, retry with backoff.
	KindWorkerPoolSaturated ErrorKind = "worker_pool_saturated"

	// KindCapabilityTimeout means one transcription or synthesis job
	// exceeded its per-job timeout. Recoverable per job; the session stays
	// alive.
	KindCapabilityTimeout ErrorKind = "capability_timeout"

	// KindUnsupportedFormat means the request carried audio the engine
	// cannot ingest. The request is rejected before reaching the buffer.
	KindUnsupportedFormat ErrorKind = "unsupported_format"

	// KindInvalidInput means the request was malformed (bad hex, missing
	// fields, unknown frame type). Rejected before reaching the buffer.
	KindInvalidInput ErrorKind = "invalid_input"

	// KindSessionNotFound means the session id is unknown. Terminal for the
	// request: the client must create a new session.
	KindSessionNotFound ErrorKind = "session_not_found"

	// KindSessionExpired means the session existed but has been expired or
	// closed. Terminal for the request.
	KindSessionExpired ErrorKind = "session_expired"

	// KindInternal covers unexpected faults that are not part of the
	// recoverable taxonomy.
	KindInternal ErrorKind = "internal"
)

// Error is a classified engine error. The gateway unwraps any error chain
// with [errors.As] to find one of these and translate it to a protocol
// error frame; errors without a kind are reported as KindInternal.
type Error struct {
	Kind    ErrorKind
	Message string

	// Err is the wrapped cause, if any.
	Err error
}

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an existing error without losing its chain.
func WrapError(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/errors.As traversal.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from an error chain. Unclassified errors
// (including nil) report KindInternal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// Recoverable reports whether a client can usefully retry after this kind.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindOutOfOrderChunk, KindBufferOverflow, KindWorkerPoolSaturated, KindCapabilityTimeout:
		return true
	default:
		return false
	}
}
