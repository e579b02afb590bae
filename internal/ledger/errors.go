package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrConsistencyViolation = errors.New("consistency violation")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrAlreadyInitialized   = errors.New("syllabus already initialized")
	ErrAlreadyExists        = errors.New("already exists")
)

// Error carries the failing operation and a kind alongside the cause.
type Error struct {
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg = e.Message
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewError builds an *Error of the given kind.
func NewError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Invalid reports rejected caller input.
func Invalid(op, format string, args ...any) error {
	return NewError(op, ErrInvalidInput, format, args...)
}

// NotFound reports a missing topic, record or profile.
func NotFound(op, format string, args ...any) error {
	return NewError(op, ErrNotFound, format, args...)
}

// Conflict reports contention on a topic's aggregate.
func Conflict(op string, err error) error {
	return &Error{Op: op, Kind: ErrConflict, Err: err}
}

// Storage wraps a driver failure as StorageUnavailable, leaving already
// classified errors and context errors as they are.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Op: op, Kind: ErrStorageUnavailable, Err: err}
}

// IsClassified reports whether err already carries one of the ledger kinds.
func IsClassified(err error) bool {
	for _, kind := range []error{
		ErrInvalidInput, ErrNotFound, ErrConflict, ErrConsistencyViolation,
		ErrStorageUnavailable, ErrAlreadyInitialized, ErrAlreadyExists,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
