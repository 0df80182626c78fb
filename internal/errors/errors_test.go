package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErrorToHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: NewValidationError("name", "too short"), status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "wrapped validation", err: fmt.Errorf("update: %w", NewValidationError("email", "bad")), status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "user exists", err: ErrUserAlreadyExists, status: http.StatusBadRequest, code: "USER_ALREADY_EXISTS"},
		{name: "email taken", err: fmt.Errorf("update profile: %w", ErrEmailTaken), status: http.StatusBadRequest, code: "EMAIL_TAKEN"},
		{name: "bare conflict", err: ErrConflict, status: http.StatusBadRequest, code: "CONFLICT"},
		{name: "credentials", err: ErrInvalidCredentials, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{name: "unauthorized", err: ErrUnauthorized, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "not authenticated", err: ErrNotAuthenticated, status: http.StatusUnauthorized, code: "NOT_AUTHENTICATED"},
		{name: "forbidden", err: ErrForbidden, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "not found", err: ErrUserNotFound, status: http.StatusNotFound, code: "USER_NOT_FOUND"},
		{name: "unknown", err: errors.New("dial tcp: connection refused"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := MapErrorToHTTP(tt.err)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.code, httpErr.Code)
		})
	}
}

func TestMapErrorToHTTP_ServerErrorHidesDetail(t *testing.T) {
	resp := MapErrorToHTTP(errors.New("password=hunter2 leaked")).ToErrorResponse()
	assert.False(t, resp.Success)
	assert.Equal(t, "Server error", resp.Message)
}

func TestValidationError(t *testing.T) {
	verr := &ValidationError{Fields: []FieldError{
		{Field: "name", Message: "Name must be between 2 and 50 characters"},
		{Field: "email", Message: "Please provide a valid email"},
	}}

	assert.ErrorIs(t, verr, ErrValidationFailed)
	assert.Contains(t, verr.Error(), "name: Name must be between 2 and 50 characters")

	resp := MapErrorToHTTP(verr).ToErrorResponse()
	assert.Equal(t, "Validation failed", resp.Message)
	assert.Len(t, resp.Errors, 2)
}

func TestConflictFamily(t *testing.T) {
	assert.ErrorIs(t, ErrEmailTaken, ErrConflict)
	assert.ErrorIs(t, ErrUserAlreadyExists, ErrConflict)
	assert.NotErrorIs(t, ErrEmailTaken, ErrUserAlreadyExists)
}
