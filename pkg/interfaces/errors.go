package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrRecordNotFound = errors.New("connection record not found")
)
