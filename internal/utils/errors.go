package utils

import (
	"errors"
	"fmt"
)

// Error kinds shared across the resolution, correlation and transport layers.
var (
	// ErrValidation marks malformed input such as an invalid completion payload.
	ErrValidation = errors.New("validation failed")
	// ErrAmbiguousReference marks a mention that matches several entities.
	ErrAmbiguousReference = errors.New("ambiguous reference")
	// ErrNotFound marks a mention with no catalog match.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable marks an unreachable or timed-out collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInternalInconsistency marks records that contradict the current catalog.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// AppError wraps an operation, human-facing message, error kind and underlying error.
type AppError struct {
	Op   string
	Msg  string
	Kind error
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the error kind so errors.Is works through wrapping.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// NewAppError constructs an AppError without a kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewKindError constructs an AppError tagged with one of the package error kinds.
func NewKindError(kind error, op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: kind, Err: err}
}

// KindOf returns the first known error kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrUpstreamUnavailable,
		ErrValidation,
		ErrNotFound,
		ErrAmbiguousReference,
		ErrInternalInconsistency,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
