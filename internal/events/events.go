package events

import "dronelab/pkg/types"

// Event is a domain event. Name is the routing key; it must not depend on
// the receiver's fields so the zero value can be used for subscription.
type Event interface {
	Name() string
	LectureCode() string
}

// Domain event names
const (
	NameParticipantJoined       = "participant.joined"
	NameParticipantLeft         = "participant.left"
	NameParticipantDisconnected = "participant.disconnected"
	NameCodeUpdated             = "code.updated"
	NameDroneUpdated            = "drone.updated"
	NameCodeActiveChanged       = "code.active.changed"
	NameCodeAllActiveChanged    = "code.all.active.changed"
	NameDroneActiveChanged      = "drone.active.changed"
	NameDroneAllActiveChanged   = "drone.all.active.changed"
)

// Scope identifies the lecture and, for single-participant events, the
// student. Every event carries the full roster taken after the change,
// unless Stale is set because the roster could not be read.
type Scope struct {
	Lecture   string
	StudentID string
	Roster    []types.RosterEntry
	Stale     bool
}

func (s Scope) LectureCode() string { return s.Lecture }

type ParticipantJoined struct{ Scope }

func (ParticipantJoined) Name() string { return NameParticipantJoined }

type ParticipantLeft struct{ Scope }

func (ParticipantLeft) Name() string { return NameParticipantLeft }

// ParticipantDisconnected fires when a student's socket drops without leaving.
type ParticipantDisconnected struct{ Scope }

func (ParticipantDisconnected) Name() string { return NameParticipantDisconnected }

// CodeUpdated carries the new text. ByInstructor is set for supervisor edits,
// which also overwrite the student's editor.
type CodeUpdated struct {
	Scope
	Code         string
	ByInstructor bool
}

func (CodeUpdated) Name() string { return NameCodeUpdated }

type DroneUpdated struct {
	Scope
	Status string
}

func (DroneUpdated) Name() string { return NameDroneUpdated }

type CodeActiveChanged struct {
	Scope
	Active bool
}

func (CodeActiveChanged) Name() string { return NameCodeActiveChanged }

type CodeAllActiveChanged struct {
	Scope
	Active bool
}

func (CodeAllActiveChanged) Name() string { return NameCodeAllActiveChanged }

type DroneActiveChanged struct {
	Scope
	Active bool
}

func (DroneActiveChanged) Name() string { return NameDroneActiveChanged }

type DroneAllActiveChanged struct {
	Scope
	Active bool
}

func (DroneAllActiveChanged) Name() string { return NameDroneAllActiveChanged }
