package types

import (
	"encoding/json"
	"time"
)

// Connection roles. A socket declares its role by the endpoint it dials.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

// Inbound socket events
const (
	EventJoinLecture        = "joinLecture"
	EventLeaveLecture       = "leaveLecture"
	EventCodeSubmit         = "code:submit"
	EventDroneUpdate        = "drone:update"
	EventCodeSetActive      = "code:setActive"
	EventCodeSetAllActive   = "code:setAllActive"
	EventDroneSetActive     = "drone:setActive"
	EventDroneSetAllActive  = "drone:setAllActive"
	EventCodeInstructorEdit = "code:instructorEdit"
)

// Outbound notifications
const (
	EventStudentJoined         = "studentJoined"
	EventStudentLeft           = "studentLeft"
	EventStudentDisconnected   = "studentDisconnected"
	EventCodeUpdated           = "code:updated"
	EventDroneUpdated          = "drone:updated"
	EventCodeActiveChanged     = "code:activeChanged"
	EventCodeAllActiveChanged  = "code:allActiveChanged"
	EventDroneActiveChanged    = "drone:activeChanged"
	EventDroneAllActiveChanged = "drone:allActiveChanged"
	EventCodeOverwritten       = "code:overwritten"
	EventLectureEnded          = "lectureEnded"
	EventError                 = "error"
)

// Acknowledgments, sent only to the initiating socket
const (
	AckJoinSuccess         = "joinSuccess"
	AckJoinResponse        = "joinResponse"
	AckLeaveResponse       = "leaveResponse"
	AckCodeSaved           = "code:saved"
	AckDroneSaved          = "drone:saved"
	AckCodeActiveSaved     = "code:activeSaved"
	AckDroneActiveSaved    = "drone:activeSaved"
	AckInstructorEditSaved = "code:instructorEditSaved"
)

// DefaultDroneStatus is reported for participants that never sent a status.
const DefaultDroneStatus = "disconnected"

// DefaultCodeTemplate seeds a participant's editor on first join.
const DefaultCodeTemplate = "# Write code to control the drone here\n" +
	"# Example:\n" +
	"# drone.takeoff()\n" +
	"# drone.move_forward(1)\n" +
	"# drone.turn_right(90)\n" +
	"# drone.land()"

// Envelope is the wire frame used in both directions on every socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals an outbound frame once so it can be fanned out as bytes.
func NewFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Lecture is the persisted record of a live session. Code is the session id
// participants type in to join.
type Lecture struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	InstructorID string    `json:"instructorId"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Participant is one student's state inside a lecture as held by the session store.
type Participant struct {
	StudentID   string `json:"studentId"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	DroneStatus string `json:"droneStatus"`
	CodeActive  bool   `json:"codeActive"`
	DroneActive bool   `json:"droneActive"`
}

// RosterEntry is a participant plus its derived connection state.
type RosterEntry struct {
	Participant
	IsConnected bool `json:"isConnected"`
}

// Ack is the common acknowledgment body. Code is a stable failure reason.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Inbound payloads

type JoinRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type LeaveRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
}

type CodeRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Code          string `json:"code"`
}

type DroneStatusRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Status        string `json:"status"`
}

// ActiveRequest toggles one participant's flag, or every participant's flag
// when ParticipantID is empty and the event is a set-all.
type ActiveRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId,omitempty"`
	Active        bool   `json:"active"`
}

// Outbound payloads

type JoinSuccess struct {
	Ack
	LectureCode string `json:"lectureCode"`
	StudentID   string `json:"studentId"`
	Code        string `json:"code"`
	CodeActive  bool   `json:"codeActive"`
	DroneActive bool   `json:"droneActive"`
}

type JoinResponse struct {
	Ack
	LectureCode string        `json:"lectureCode"`
	Students    []RosterEntry `json:"students"`
}

type RosterNotice struct {
	LectureCode string        `json:"lectureCode"`
	StudentID   string        `json:"studentId,omitempty"`
	Students    []RosterEntry `json:"students"`
}

type ActiveNotice struct {
	LectureCode string        `json:"lectureCode"`
	StudentID   string        `json:"studentId,omitempty"`
	Active      bool          `json:"active"`
	Students    []RosterEntry `json:"students,omitempty"`
}

type CodeNotice struct {
	LectureCode string `json:"lectureCode"`
	StudentID   string `json:"studentId"`
	Code        string `json:"code"`
}

type LectureEnded struct {
	LectureCode string `json:"lectureCode"`
	Message     string `json:"message"`
}
