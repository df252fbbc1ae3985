package analytics

import "errors"

var (
	ErrCalculationTimeout = errors.New("metrics calculation timed out")
	ErrCacheMiss          = errors.New("metrics not cached")
)
