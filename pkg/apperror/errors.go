package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for retry and propagation decisions.
// The lifecycle engine retries Transient only; the dispatcher retries
// Transient and Conflict; everything else surfaces immediately.
type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindAuth
	KindState
	KindConflict
	KindTransient
	KindPermanent
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindAuth:
		return "auth"
	case KindState:
		return "state"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// AppError is a structured error carrying a stable wire code.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	Kind       Kind   `json:"-"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // wrapped internal error, never exposed to clients
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation may be re-attempted as-is.
func (e *AppError) Retryable() bool {
	return e.Kind == KindTransient
}

// New creates a new AppError.
func New(code, message string, kind Kind, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, Kind: kind, HTTPStatus: httpStatus}
}

// Wrap attaches an internal error to a new AppError.
func Wrap(code, message string, kind Kind, httpStatus int, err error) *AppError {
	return &AppError{Code: code, Message: message, Kind: kind, HTTPStatus: httpStatus, Err: err}
}

// KindOf extracts the Kind from any error chain. Unknown errors are Internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable wire code from any error chain.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// ---- Lifecycle & state machine ----

func ErrInvalidState(from, event string) *AppError {
	return Wrap("INVALID_STATE", "Operation not allowed in current payment state",
		KindState, http.StatusConflict, fmt.Errorf("no edge %s from %s", event, from))
}

func ErrNotFound(entity string) *AppError {
	return New("NOT_FOUND", fmt.Sprintf("%s not found", entity), KindInput, http.StatusNotFound)
}

func ErrAccessDenied() *AppError {
	return New("ACCESS_DENIED", "Payment belongs to a different team", KindAuth, http.StatusForbidden)
}

func ErrPartialNotSupported() *AppError {
	return New("PARTIAL_NOT_SUPPORTED", "Partial amounts are not supported", KindState, http.StatusBadRequest)
}

// ---- Admission & locking ----

func ErrLockTimeout(resource string) *AppError {
	return Wrap("LOCK_TIMEOUT", "Failed to acquire resource lock",
		KindConflict, http.StatusServiceUnavailable, fmt.Errorf("lock %s", resource))
}

func ErrSystemOverload() *AppError {
	return New("SYSTEM_OVERLOAD", "System is over capacity, try again later",
		KindConflict, http.StatusServiceUnavailable)
}

func ErrTeamLimitExceeded() *AppError {
	return New("TEAM_LIMIT_EXCEEDED", "Too many concurrent operations for this team",
		KindConflict, http.StatusServiceUnavailable)
}

// ---- Authentication ----

// ErrAuthentication reports any token/signature failure. The reason is
// kept on the wrapped error for logs only; the response never says
// which check failed.
func ErrAuthentication(reason string) *AppError {
	return Wrap("AUTHENTICATION_ERROR", "Authentication failed",
		KindAuth, http.StatusUnauthorized, errors.New(reason))
}

// ---- Rate limiting ----

func ErrRateLimited(retryAfter time.Duration) *AppError {
	return Wrap("RATE_LIMITED", "Rate limit exceeded",
		KindInput, http.StatusTooManyRequests, fmt.Errorf("retry after %s", retryAfter))
}

// ---- Control flow ----

func ErrCancelled() *AppError {
	return New("CANCELLED", "Operation cancelled before commit", KindCancelled, 499)
}

// ---- System ----

// Transient marks a retryable infrastructure failure (DB deadlock,
// downstream timeout).
func Transient(err error) *AppError {
	return Wrap("INTERNAL_ERROR", "Temporary failure", KindTransient, http.StatusServiceUnavailable, err)
}

// Permanent marks a terminal failure that must not be retried.
func Permanent(err error) *AppError {
	return Wrap("INTERNAL_ERROR", "Permanent failure", KindPermanent, http.StatusInternalServerError, err)
}

// InternalError wraps an unexpected error.
func InternalError(err error) *AppError {
	return Wrap("INTERNAL_ERROR", "Internal server error", KindInternal, http.StatusInternalServerError, err)
}

// Validation reports a malformed request.
func Validation(message string) *AppError {
	return New("VALIDATION_ERROR", message, KindInput, http.StatusBadRequest)
}
