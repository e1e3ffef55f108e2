package util

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/spec-kit/medcare-service/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

// NewNotFound names the missing resource. The result still matches domain.ErrNotFound.
func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
		Err:        domain.ErrNotFound,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return &DomainError{Code: "FORBIDDEN", Message: message, HTTPStatus: http.StatusForbidden, Err: domain.ErrForbidden}
}

func NewConflict(message string, details map[string]any) error {
	return &DomainError{Code: "CONFLICT", Message: message, HTTPStatus: http.StatusConflict, Details: details, Err: domain.ErrConflict}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

type sentinelMapping struct {
	target  error
	code    string
	message string
	status  int
}

// Order matters: the first sentinel found in the chain wins. Token failures collapse into
// UNAUTHORIZED so callers never learn which check rejected the token.
var sentinelMappings = []sentinelMapping{
	{domain.ErrMissingToken, "MISSING_TOKEN", "missing authorization token", http.StatusUnauthorized},
	{domain.ErrRevoked, "REVOKED", "refresh token revoked", http.StatusUnauthorized},
	{domain.ErrInvalidCredentials, "INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized},
	{domain.ErrAlreadyConsumedOrStale, "TOKEN_STALE", "token already used or superseded", http.StatusBadRequest},
	{domain.ErrForbidden, "FORBIDDEN", "forbidden", http.StatusForbidden},
	{domain.ErrUnauthorized, "UNAUTHORIZED", "unauthorized", http.StatusUnauthorized},
	{domain.ErrMalformedToken, "UNAUTHORIZED", "unauthorized", http.StatusUnauthorized},
	{domain.ErrInvalidSignature, "UNAUTHORIZED", "unauthorized", http.StatusUnauthorized},
	{domain.ErrExpired, "UNAUTHORIZED", "unauthorized", http.StatusUnauthorized},
	{domain.ErrKindMismatch, "UNAUTHORIZED", "unauthorized", http.StatusUnauthorized},
	{domain.ErrNotFound, "NOT_FOUND", "resource not found", http.StatusNotFound},
	{domain.ErrConflict, "CONFLICT", "resource already exists", http.StatusConflict},
	{domain.ErrInvalidTransition, "INVALID_TRANSITION", "invalid state transition", http.StatusConflict},
	{domain.ErrValidation, "VALIDATION_FAILED", "validation failed", http.StatusBadRequest},
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var validationErrs validation.Errors
	if errors.As(err, &validationErrs) {
		details := make(map[string]any, len(validationErrs))
		for field, fieldErr := range validationErrs {
			details[field] = fieldErr.Error()
		}
		return NewDomainError("VALIDATION_FAILED", "validation failed", http.StatusBadRequest, details)
	}

	for _, m := range sentinelMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if m.target == domain.ErrValidation {
				message = err.Error()
			}
			return &DomainError{Code: m.code, Message: message, HTTPStatus: m.status, Err: err}
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
