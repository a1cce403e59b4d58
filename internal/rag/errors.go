package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can decide between retrying,
// reporting bad input, or alerting an operator.
type Kind string

const (
	// KindInvalidInput is a caller error. Never retried.
	KindInvalidInput Kind = "invalid_input"
	// KindModelUnavailable means the embedding model is not loaded or not reachable.
	KindModelUnavailable Kind = "model_unavailable"
	// KindEmbedding means the model rejected or failed on a specific input.
	KindEmbedding Kind = "embedding_error"
	// KindDimensionMismatch is a configuration error between model and schema.
	KindDimensionMismatch Kind = "dimension_mismatch"
	// KindStoreUnavailable covers connectivity and query failures of the store.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindHistoryWrite means the answer was computed but could not be recorded.
	KindHistoryWrite Kind = "history_write_error"
	// KindInvalidDocument rejects a single document during ingestion.
	KindInvalidDocument Kind = "invalid_document"
	// KindInternal is anything not classified above.
	KindInternal Kind = "internal"
)

// Retryable reports whether an identical request may succeed later.
func (k Kind) Retryable() bool {
	switch k {
	case KindModelUnavailable, KindEmbedding, KindStoreUnavailable, KindHistoryWrite:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the kind onto a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindInvalidDocument:
		return http.StatusUnprocessableEntity
	case KindEmbedding:
		return http.StatusBadGateway
	case KindModelUnavailable, KindStoreUnavailable, KindHistoryWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "store.topk").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error. A nil err is allowed for kinds that carry
// no underlying cause.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindInternal when none is present. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify wraps err as kind unless it already carries a classification.
// Context deadline and cancellation errors are classified as kind too, so a
// timed-out store call surfaces as StoreUnavailable.
func Classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: kind, Op: op, Err: fmt.Errorf("timed out: %w", err)}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
