// Package apperr defines the error taxonomy shared by all cortexd services.
//
// Services return *Error values (usually wrapped with fmt.Errorf and %w) and
// the HTTP boundary maps each Kind to a status code. Code that does not care
// about the taxonomy can treat these as ordinary errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the cortexd taxonomy.
type Kind string

const (
	// KindInvalidInput indicates a malformed or out-of-range request.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindUnsupportedFormat indicates input whose vendor format could not
	// be detected.
	KindUnsupportedFormat Kind = "UNSUPPORTED_FORMAT"

	// KindEmptyInput indicates input that parsed to zero usable items.
	KindEmptyInput Kind = "EMPTY_INPUT"

	// KindInsufficientData indicates an operation that needs more corpus
	// than currently exists (e.g. projection over fewer than 2 vectors).
	KindInsufficientData Kind = "INSUFFICIENT_DATA"

	// KindNotFound indicates a missing entity.
	KindNotFound Kind = "NOT_FOUND"

	// KindDimensionMismatch indicates an embedding whose dimensionality
	// disagrees with the corpus.
	KindDimensionMismatch Kind = "DIMENSION_MISMATCH"

	// KindRetryableUpstream indicates an upstream provider failure that
	// persisted through retries.
	KindRetryableUpstream Kind = "RETRYABLE_UPSTREAM"

	// KindInternal is the catch-all for unexpected failures.
	KindInternal Kind = "INTERNAL"
)

// Error is a classified error. Err may be nil.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields a message-only Error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Message returns the taxonomy message for err, or err.Error() for
// unclassified errors.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return err.Error()
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnsupportedFormat, KindEmptyInput, KindInsufficientData:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindRetryableUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
