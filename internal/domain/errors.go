package domain

import "errors"

var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrMalformedToken         = errors.New("malformed token")
	ErrInvalidSignature       = errors.New("invalid token signature")
	ErrExpired                = errors.New("token expired")
	ErrKindMismatch           = errors.New("token kind mismatch")
	ErrRevoked                = errors.New("session revoked")
	ErrAlreadyConsumedOrStale = errors.New("token already consumed or stale")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrMissingToken           = errors.New("missing bearer token")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidTransition      = errors.New("invalid verification transition")
	ErrValidation             = errors.New("validation failed")
)
