package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindAuthorization Kind = "AuthorizationError"
	KindConnectivity  Kind = "ConnectivityError"
	KindPersistence   Kind = "PersistenceError"
	KindNotFound      Kind = "NotFoundError"
	KindInternal      Kind = "InternalError"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Kind       Kind   `json:"kind,omitempty"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches another AppError by code so copies made by WithInternal still match their sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		Kind:       KindAuthorization,
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password",
		Kind:       KindAuthorization,
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		Kind:       KindAuthorization,
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		Kind:       KindNotFound,
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		Kind:       KindValidation,
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		Kind:       KindInternal,
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kindForStatus(statusCode),
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Kind:       KindInternal,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return Validation(message)
}

// Validation reports malformed input rejected before any external call.
func Validation(message string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Kind:       KindValidation,
		StatusCode: http.StatusBadRequest,
	}
}

// Authorization reports a caller lacking ownership, a grant or a permission.
func Authorization(message string) *AppError {
	return &AppError{
		Code:       "AUTHORIZATION_ERROR",
		Message:    message,
		Kind:       KindAuthorization,
		StatusCode: http.StatusForbidden,
	}
}

// MissingPermission names the permission the caller lacks.
func MissingPermission(permission string) *AppError {
	err := Authorization(fmt.Sprintf("missing permission: %s", permission))
	err.Code = "MISSING_PERMISSION"
	return err
}

// Connectivity reports an unreachable external source. The driver message is kept for callers.
func Connectivity(message string, cause error) *AppError {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &AppError{
		Code:       "CONNECTIVITY_ERROR",
		Message:    message,
		Kind:       KindConnectivity,
		StatusCode: http.StatusBadGateway,
		Internal:   cause,
	}
}

// Persistence reports a durable store read or write failure.
func Persistence(message string, cause error) *AppError {
	return &AppError{
		Code:       "PERSISTENCE_ERROR",
		Message:    message,
		Kind:       KindPersistence,
		StatusCode: http.StatusInternalServerError,
		Internal:   cause,
	}
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return KindConnectivity
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindInternal
	}
}
