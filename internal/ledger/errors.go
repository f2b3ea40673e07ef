package ledger

import (
	"context"
	"errors"
	"fmt"

	"worldchains.ai/internal/protocol"
)

var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
	ErrWrongRole  = errors.New("operation not served by this ledger kind")
	ErrLimit      = errors.New("limit reached")
	ErrStopped    = errors.New("ledger runtime stopped")
)

// DecodeError reports a payload that failed to parse or validate. Writes
// that precede the failing field are kept.
type DecodeError struct {
	Field string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// StoreError reports a failed store call.
type StoreError struct {
	Op        string // get, put, delete, keys
	Namespace string
	Key       string
	Cause     error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Namespace, e.Cause)
	}
	return fmt.Sprintf("store %s %s/%s: %v", e.Op, e.Namespace, e.Key, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// SendError reports an outbound message the channel refused.
type SendError struct {
	To    string
	Kind  string
	Cause error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Kind, e.To, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// ConflictError reports a fact id reused with different content.
type ConflictError struct {
	Kind string
	Key  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already recorded with different content", e.Kind, e.Key)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// Code maps an error returned by a ledger to its protocol code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var (
		de *DecodeError
		se *StoreError
		sd *SendError
		ce *ConflictError
	)
	switch {
	case errors.As(err, &de):
		return protocol.ErrDecode
	case errors.As(err, &se):
		return protocol.ErrStore
	case errors.As(err, &sd):
		return protocol.ErrChannel
	case errors.As(err, &ce):
		return protocol.ErrConflict
	case errors.Is(err, ErrBadRequest):
		return protocol.ErrBadRequest
	case errors.Is(err, ErrNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, ErrWrongRole):
		return protocol.ErrWrongRole
	case errors.Is(err, ErrLimit):
		return protocol.ErrLimit
	default:
		return protocol.ErrInternal
	}
}

// Transient reports whether redelivering the same message could succeed.
// Store and channel failures qualify; decode and validation failures do not.
func Transient(err error) bool {
	var (
		se *StoreError
		sd *SendError
	)
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &se), errors.As(err, &sd):
		return true
	}
	return false
}
