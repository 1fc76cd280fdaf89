package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates a file exists but cannot be used
	ErrCorrupt = errors.New("corrupt file")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates a remote service refused or failed a request
	ErrUnavailable = errors.New("service unavailable")
)
