package persistence

import "errors"

// Common errors for persistence operations
var (
	// ErrNotFound is returned when no report exists for the requested key
	ErrNotFound = errors.New("report not found in store")

	// ErrInvalidReport is returned when a report cannot be keyed
	ErrInvalidReport = errors.New("report needs a cluster name and run ID")
)
