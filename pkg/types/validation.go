package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	userIDRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	lectureCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const MaxCodeBytes = 65536

func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

func IsValidLectureCode(code string) bool {
	if len(code) < 1 || len(code) > 20 {
		return false
	}
	return lectureCodeRegex.MatchString(code)
}

// Validate checks identifiers and the display name. Uniqueness of the name
// within a lecture is enforced by the caller that issues participant ids.
func (r *JoinRequest) Validate() error {
	if !IsValidLectureCode(r.SessionID) {
		return ErrInvalidLectureCode
	}
	if !IsValidUserID(r.ParticipantID) {
		return ErrInvalidUserID
	}
	name := strings.TrimSpace(r.Name)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		return ErrInvalidName
	}
	r.Name = name
	return nil
}

func (r *CodeRequest) Validate() error {
	if len(r.Code) > MaxCodeBytes {
		return ErrCodeTooLarge
	}
	return nil
}

func (r *DroneStatusRequest) Validate() error {
	if r.Status == "" || len(r.Status) > 200 {
		return ErrInvalidDroneStatus
	}
	return nil
}
