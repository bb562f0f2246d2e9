package types

import "errors"

var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidLectureCode = errors.New("lecture code must be 1-20 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidName        = errors.New("name must be 1-100 characters")
	ErrCodeTooLarge       = errors.New("code exceeds 64KB limit")
	ErrInvalidDroneStatus = errors.New("drone status must be 1-200 characters")
)
