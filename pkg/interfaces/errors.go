package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMetricsNotFound = errors.New("session metrics not found")
	ErrStoreClosed     = errors.New("store is closed")
)
