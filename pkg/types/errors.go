package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures so transports can map them consistently.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindPermission  ErrorKind = "permission"
	KindNotFound    ErrorKind = "not_found"
	KindValidation  ErrorKind = "validation"
	KindRateLimit   ErrorKind = "rate_limit"
	KindPersistence ErrorKind = "persistence"
	KindAggregation ErrorKind = "aggregation"
	KindInternal    ErrorKind = "internal"
)

// Error is the service-wide error type. Message is safe to show to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func AuthError(msg string, err error) *Error        { return newError(KindAuth, msg, err) }
func PermissionError(msg string) *Error             { return newError(KindPermission, msg, nil) }
func NotFoundError(msg string) *Error               { return newError(KindNotFound, msg, nil) }
func ValidationError(msg string, err error) *Error  { return newError(KindValidation, msg, err) }
func PersistenceError(msg string, err error) *Error { return newError(KindPersistence, msg, err) }
func AggregationError(msg string, err error) *Error { return newError(KindAggregation, msg, err) }

// RateLimitError is returned when an event exceeds its budget.
type RateLimitError struct {
	Event   string
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per window", e.Event, e.Limit)
}

// KindOf reports the ErrorKind of err, or KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindRateLimit
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns a client-safe message for err.
func PublicMessage(err error) string {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Error()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

var (
	ErrInvalidSessionID = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidEEGData   = errors.New("invalid EEG data")
)
