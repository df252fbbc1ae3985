package auth

import "errors"

var (
	ErrMissingToken = errors.New("authentication token required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrAuthFailed   = errors.New("authentication failed")
)
