package lecture

import "errors"

var (
	ErrInvalidInstructorID = errors.New("instructor ID must be a valid user ID")
	ErrInvalidCode         = errors.New("invalid lecture code")
	ErrLectureNotFound     = errors.New("lecture not found")
	ErrLectureEnded        = errors.New("lecture has ended")
	ErrCodeSpaceExhausted  = errors.New("could not allocate an unused lecture code")
)
