// Package apperr is the single error taxonomy shared by every HTTP handler
// and worker in the service. Handlers classify an error by errors.Is against
// these sentinels and never inspect error strings.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrForbidden             = errors.New("forbidden")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrRateLimited           = errors.New("rate limited")
	ErrNotFound              = errors.New("not found")
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrAdapterUnavailable    = errors.New("adapter unavailable")
	ErrGeneratorFailed       = errors.New("generator failed")
	ErrEmptyDocument         = errors.New("document has no extractable text")
	ErrExtractionFailed      = errors.New("text extraction failed")
	ErrMaintenanceMode       = errors.New("service is in maintenance mode")
	ErrDuplicateFeedback     = errors.New("feedback already recorded for this query")
)

// StatusFor maps a classified error to the HTTP status code a handler should
// write. Unrecognized errors default to 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateFeedback):
		return http.StatusConflict
	case errors.Is(err, ErrMaintenanceMode):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAdapterUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrGeneratorFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvariantViolation):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Wrapped pairs a sentinel with request-specific detail, the way
// domain.ValidationError pairs a field and value with a sentinel.
type Wrapped struct {
	Op      string
	Detail  string
	Wrapped error
}

func (e *Wrapped) Error() string {
	if e.Detail == "" {
		return e.Op + ": " + e.Wrapped.Error()
	}
	return e.Op + ": " + e.Wrapped.Error() + ": " + e.Detail
}

func (e *Wrapped) Unwrap() error { return e.Wrapped }

// Wrap annotates err with the operation that produced it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Wrapped{Op: op, Wrapped: err}
}

// WrapDetail annotates err with the operation and a free-form detail string.
func WrapDetail(op, detail string, err error) error {
	if err == nil {
		return nil
	}
	return &Wrapped{Op: op, Detail: detail, Wrapped: err}
}
