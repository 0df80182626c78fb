package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is returned when a token is missing, invalid or expired.
	ErrUnauthorized = errors.New("not authorized, token failed")
	// ErrForbidden is returned when a valid identity lacks the required role.
	ErrForbidden = errors.New("not authorized to access this route")
	// ErrInvalidCredentials is returned when email or password is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidationFailed is wrapped by ValidationError.
	ErrValidationFailed = errors.New("validation failed")
	// ErrConflict marks a uniqueness violation on the identity store.
	ErrConflict = errors.New("conflict")
	// ErrUserAlreadyExists is returned when registering an email that is taken.
	ErrUserAlreadyExists = fmt.Errorf("%w: user already exists", ErrConflict)
	// ErrEmailTaken is returned when a profile update reuses another user's email.
	ErrEmailTaken = fmt.Errorf("%w: email already taken", ErrConflict)
	// ErrUserNotFound is returned when an identity id resolves to nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotAuthenticated signals a handler ran without an attached identity,
	// which means a route was registered outside the access guard.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field messages and matches ErrValidationFailed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrValidationFailed) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError builds a ValidationError with a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Code    string       `json:"code,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Fields     []FieldError
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Success: false,
		Message: e.Message,
		Code:    e.Code,
		Errors:  e.Fields,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Anything unknown becomes
// a detail-free 500.
func MapErrorToHTTP(err error) *HTTPError {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpErr := NewHTTPError(http.StatusBadRequest, "Validation failed", "VALIDATION_FAILED")
		httpErr.Fields = verr.Fields
		return httpErr
	case errors.Is(err, ErrUserAlreadyExists):
		return NewHTTPError(http.StatusBadRequest, "User already exists", "USER_ALREADY_EXISTS")
	case errors.Is(err, ErrEmailTaken):
		return NewHTTPError(http.StatusBadRequest, "Email already taken", "EMAIL_TAKEN")
	case errors.Is(err, ErrConflict):
		return NewHTTPError(http.StatusBadRequest, "Conflict", "CONFLICT")
	case errors.Is(err, ErrInvalidCredentials):
		return NewHTTPError(http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
	case errors.Is(err, ErrNotAuthenticated):
		return NewHTTPError(http.StatusUnauthorized, "Not authenticated", "NOT_AUTHENTICATED")
	case errors.Is(err, ErrUnauthorized):
		return NewHTTPError(http.StatusUnauthorized, "Not authorized, token failed", "UNAUTHORIZED")
	case errors.Is(err, ErrForbidden):
		return NewHTTPError(http.StatusForbidden, "Not authorized to access this route", "FORBIDDEN")
	case errors.Is(err, ErrUserNotFound):
		return NewHTTPError(http.StatusNotFound, "User not found", "USER_NOT_FOUND")
	default:
		return NewHTTPError(http.StatusInternalServerError, "Server error", "INTERNAL_ERROR")
	}
}
