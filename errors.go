package edgar

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure so callers can map it to a response.
type Kind string

const (
	KindInvalidInput        Kind = "InvalidInput"
	KindNotFound            Kind = "NotFound"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindUpstreamFetchFailed Kind = "UpstreamFetchFailed"
	KindParseFailed         Kind = "ParseFailed"
	KindPersistenceFailed   Kind = "PersistenceFailed"
	KindAggregationFailed   Kind = "AggregationFailed"
)

// ErrNotFound is returned by lookups when no row exists for the key.
var ErrNotFound = errors.New("not found")

// Error is the error type returned by the refresh pipeline.
type Error struct {
	Kind Kind
	Op   string // stage that failed, e.g. "resolve" or "fetch submissions"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, &edgar.Error{Kind: edgar.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error kind to the status code the surrounding
// application should answer with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamFetchFailed:
		return http.StatusBadGateway
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
