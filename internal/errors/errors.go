// Package errors provides the structured error type used across quarry.
// Errors carry a Kind that determines propagation: NotFound maps to empty
// results on the read path, Upstream and Timeout are retryable by the job
// queue, Internal surfaces immediately.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	// KindNotFound marks a missing collection, store, or path.
	// Search maps it to an empty result; delete treats it as a no-op.
	KindNotFound Kind = "not_found"

	// KindInvalidArgument marks rejected input. Never enqueued, never retried.
	KindInvalidArgument Kind = "invalid_argument"

	// KindUpstream marks a failure in an external collaborator
	// (inference service, vector store, lexical index).
	KindUpstream Kind = "upstream"

	// KindTimeout marks a deadline miss on a network operation.
	// Treated as upstream except for the reranker, which fails open.
	KindTimeout Kind = "timeout"

	// KindInternal marks an invariant violation.
	KindInternal Kind = "internal"
)

// Error is the structured error for quarry operations.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the operation that failed, e.g. "vector.upsert".
	Op string

	// Store is the store name involved, if any.
	Store string

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Store != "" {
		return fmt.Sprintf("%s: %s [%s, store=%s]", e.Op, msg, e.Kind, e.Store)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Op, msg, e.Kind)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind so callers can write errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrUpstream        = &Error{Kind: KindUpstream}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrInternal        = &Error{Kind: KindInternal}
)

// E constructs an Error.
func E(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// NotFound constructs a not-found error for a store-scoped resource.
func NotFound(op, store, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Store: store, Message: message}
}

// InvalidArgument constructs a validation error.
func InvalidArgument(op, message string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Message: message}
}

// Upstream wraps a failure from an external collaborator.
func Upstream(op string, cause error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Cause: cause}
}

// Timeout wraps a deadline miss.
func Timeout(op string, cause error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Cause: cause}
}

// Internal wraps an invariant violation.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Cause: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsRetryable reports whether the queue should retry the operation.
// Upstream and timeout failures are retryable; validation and invariant
// violations are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindTimeout:
		return true
	default:
		return false
	}
}
