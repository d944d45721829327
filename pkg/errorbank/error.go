package errorbank

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Kind enumerates supported application error categories.
type Kind string

const (
	// KindValidation covers malformed input rejected before any mutation.
	KindValidation Kind = "validation"
	// KindInvalidTransition covers state machine rule violations; the order
	// is left untouched and the caller should inspect its current status.
	KindInvalidTransition Kind = "invalid_transition"
	// KindPolicyViolation covers refund governance rejections, e.g. an
	// amount exceeding the originating order's total.
	KindPolicyViolation Kind = "policy_violation"
	// KindConflict covers optimistic concurrency failures; the caller should
	// retry against freshly read state, not resubmit stale data.
	KindConflict Kind = "conflict"
	// KindNotFound covers missing entities.
	KindNotFound Kind = "not_found"
	// KindIntegrity covers unrecoverable conditions such as audit chain
	// corruption. These must be escalated to an operator, never auto-healed.
	KindIntegrity Kind = "integrity"
	// KindInternal covers everything unexpected.
	KindInternal Kind = "internal"
)

// AppError captures rich error context shared across transports.
type AppError struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// Option mutates an AppError during construction.
type Option func(*AppError)

// WithCause attaches an underlying error.
func WithCause(err error) Option {
	return func(appErr *AppError) {
		appErr.cause = err
	}
}

// WithDetail adds a single named detail value.
func WithDetail(key string, value any) Option {
	return func(appErr *AppError) {
		if appErr.details == nil {
			appErr.details = make(map[string]any)
		}
		appErr.details[key] = value
	}
}

// New constructs a new AppError with the supplied kind and message.
func New(kind Kind, message string, opts ...Option) *AppError {
	if message == "" {
		message = string(kind)
	}
	appErr := &AppError{kind: kind, message: message}
	for _, opt := range opts {
		opt(appErr)
	}
	return appErr
}

// Error satisfies the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind returns the error category.
func (e *AppError) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

// Message returns the human-readable message.
func (e *AppError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns optional metadata about the error.
func (e *AppError) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// StatusCode resolves the HTTP status for the error kind.
func (e *AppError) StatusCode() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidTransition, KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the error kind onto a gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if e == nil {
		return codes.Internal
	}
	switch e.kind {
	case KindValidation:
		return codes.InvalidArgument
	case KindInvalidTransition, KindPolicyViolation:
		return codes.FailedPrecondition
	case KindConflict:
		return codes.Aborted
	case KindNotFound:
		return codes.NotFound
	case KindIntegrity:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// Validation constructs a malformed-input error.
func Validation(message string, opts ...Option) *AppError {
	return New(KindValidation, message, opts...)
}

// InvalidTransition constructs a state machine violation error.
func InvalidTransition(message string, opts ...Option) *AppError {
	return New(KindInvalidTransition, message, opts...)
}

// PolicyViolation constructs a refund governance rejection.
func PolicyViolation(message string, opts ...Option) *AppError {
	return New(KindPolicyViolation, message, opts...)
}

// Conflict constructs an optimistic concurrency error.
func Conflict(message string, opts ...Option) *AppError {
	return New(KindConflict, message, opts...)
}

// NotFound constructs a missing-entity error.
func NotFound(message string, opts ...Option) *AppError {
	return New(KindNotFound, message, opts...)
}

// Integrity constructs an unrecoverable integrity error.
func Integrity(message string, opts ...Option) *AppError {
	return New(KindIntegrity, message, opts...)
}

// Internal constructs a generic internal error.
func Internal(message string, opts ...Option) *AppError {
	return New(KindInternal, message, opts...)
}

// From returns an AppError for any error input, wrapping unexpected values.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", WithCause(err))
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind() == kind
}
