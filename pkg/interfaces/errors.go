package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrLectureNotFound = errors.New("lecture not found")
	ErrUnauthorized    = errors.New("unauthorized access")
	ErrCodeInUse       = errors.New("lecture code already in use by an active lecture")
)
