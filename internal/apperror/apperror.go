// Package apperror classifies domain errors into the small set of kinds the
// operations boundary understands.
package apperror

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindRateUnavailable   Kind = "rate_unavailable"
	KindInsufficientState Kind = "insufficient_state"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal_error"
)

// Error is a classified error with a stable snake_case code.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

// Is matches either the exact code or, for the bare kind sentinels, any
// error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == string(t.Kind) || t.Code == e.Code
}

var (
	ErrValidation        = &Error{Kind: KindValidation, Code: string(KindValidation)}
	ErrNotFound          = &Error{Kind: KindNotFound, Code: string(KindNotFound)}
	ErrConflict          = &Error{Kind: KindConflict, Code: string(KindConflict)}
	ErrRateUnavailable   = &Error{Kind: KindRateUnavailable, Code: string(KindRateUnavailable)}
	ErrInsufficientState = &Error{Kind: KindInsufficientState, Code: string(KindInsufficientState)}
	ErrRateLimited       = &Error{Kind: KindRateLimited, Code: string(KindRateLimited)}
)

func Validation(code string) error        { return &Error{Kind: KindValidation, Code: code} }
func NotFound(code string) error          { return &Error{Kind: KindNotFound, Code: code} }
func Conflict(code string) error          { return &Error{Kind: KindConflict, Code: code} }
func RateUnavailable(code string) error   { return &Error{Kind: KindRateUnavailable, Code: code} }
func InsufficientState(code string) error { return &Error{Kind: KindInsufficientState, Code: code} }
func RateLimited(code string) error       { return &Error{Kind: KindRateLimited, Code: code} }

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first classified error in the chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return string(KindInternal)
}

// StatusCode maps an error to the HTTP-equivalent status used when caching
// responses for idempotent replay.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInsufficientState:
		return http.StatusConflict
	case KindRateUnavailable:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
