package channel

import "strings"

// Channel kinds, used as the metrics label for broadcasts.
const (
	KindSession    = "session"
	KindStudents   = "students"
	KindInstructor = "instructor"
	KindPrivate    = "private"
)

// Session is the channel every socket of a lecture belongs to.
func Session(lecture string) string {
	return "lecture:" + lecture
}

// Students is the channel shared by all participant sockets of a lecture.
func Students(lecture string) string {
	return Session(lecture) + ":students"
}

// Instructor is the supervisors channel of a lecture.
func Instructor(lecture string) string {
	return Session(lecture) + ":instructor"
}

// Private is one participant's own channel.
func Private(lecture, studentID string) string {
	return Session(lecture) + ":student:" + studentID
}

func kindOf(channel string) string {
	switch {
	case strings.Contains(channel, ":student:"):
		return KindPrivate
	case strings.HasSuffix(channel, ":students"):
		return KindStudents
	case strings.HasSuffix(channel, ":instructor"):
		return KindInstructor
	default:
		return KindSession
	}
}
