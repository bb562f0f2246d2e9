package store

import "errors"

var (
	ErrStoreClosed        = errors.New("session store is closed")
	ErrEmptyKey           = errors.New("hash key cannot be empty")
	ErrParticipantUnknown = errors.New("participant has no record in this lecture")
)
