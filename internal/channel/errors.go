package channel

import "errors"

var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrWrongRole     = errors.New("connection role does not match the binding")
	ErrEmptyIdentity = errors.New("lecture code and student ID are required")
	ErrAlreadyBound  = errors.New("connection is bound to another identity")
)
