package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error so the HTTP layer can choose status codes and
// the synthesizer can decide whether a model call is worth retrying.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindTransientExternal
	KindPermanentFailure
	KindConcurrencyRejected
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransientExternal:
		return "transient_external"
	case KindPermanentFailure:
		return "permanent_failure"
	case KindConcurrencyRejected:
		return "concurrency_rejected"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind.
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindPermanentFailure when err carries
// no classification.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPermanentFailure
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Retryable reports whether the synthesizer should attempt the external
// call again.
func Retryable(err error) bool {
	return Is(err, KindTransientExternal)
}
