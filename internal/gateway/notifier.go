package gateway

import (
	"dronelab/internal/channel"
	"dronelab/internal/events"
	"dronelab/pkg/types"
)

// Notifier turns domain events into socket broadcasts. Supervisors get the
// full roster; students only get notices addressed to them. Events with a
// stale roster reach students but not supervisors.
type Notifier struct {
	out Broadcaster
}

func NewNotifier(out Broadcaster) *Notifier {
	return &Notifier{out: out}
}

// Register subscribes the notifier to every domain event it routes.
func (n *Notifier) Register(bus *events.Bus) error {
	subs := []func() error{
		func() error { return events.Subscribe(bus, n.onJoined) },
		func() error { return events.Subscribe(bus, n.onLeft) },
		func() error { return events.Subscribe(bus, n.onDisconnected) },
		func() error { return events.Subscribe(bus, n.onCodeUpdated) },
		func() error { return events.Subscribe(bus, n.onDroneUpdated) },
		func() error { return events.Subscribe(bus, n.onCodeActive) },
		func() error { return events.Subscribe(bus, n.onCodeAllActive) },
		func() error { return events.Subscribe(bus, n.onDroneActive) },
		func() error { return events.Subscribe(bus, n.onDroneAllActive) },
	}
	for _, sub := range subs {
		if err := sub(); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) roster(event string, s events.Scope) {
	if s.Stale {
		return
	}
	n.out.Broadcast(channel.Instructor(s.Lecture), event, types.RosterNotice{
		LectureCode: s.Lecture,
		StudentID:   s.StudentID,
		Students:    s.Roster,
	})
}

func (n *Notifier) onJoined(e events.ParticipantJoined) {
	n.roster(types.EventStudentJoined, e.Scope)
}

func (n *Notifier) onLeft(e events.ParticipantLeft) {
	n.roster(types.EventStudentLeft, e.Scope)
}

func (n *Notifier) onDisconnected(e events.ParticipantDisconnected) {
	n.roster(types.EventStudentDisconnected, e.Scope)
}

func (n *Notifier) onCodeUpdated(e events.CodeUpdated) {
	n.roster(types.EventCodeUpdated, e.Scope)
	if e.ByInstructor {
		n.out.Broadcast(channel.Private(e.Lecture, e.StudentID), types.EventCodeOverwritten, types.CodeNotice{
			LectureCode: e.Lecture,
			StudentID:   e.StudentID,
			Code:        e.Code,
		})
	}
}

func (n *Notifier) onDroneUpdated(e events.DroneUpdated) {
	n.roster(types.EventDroneUpdated, e.Scope)
}

// single toggles: roster to supervisors, notice on the private channel only
func (n *Notifier) activeChanged(event string, s events.Scope, active bool) {
	if !s.Stale {
		n.out.Broadcast(channel.Instructor(s.Lecture), event, types.ActiveNotice{
			LectureCode: s.Lecture,
			StudentID:   s.StudentID,
			Active:      active,
			Students:    s.Roster,
		})
	}
	n.out.Broadcast(channel.Private(s.Lecture, s.StudentID), event, types.ActiveNotice{
		LectureCode: s.Lecture,
		StudentID:   s.StudentID,
		Active:      active,
	})
}

// class-wide toggles: roster to supervisors, one frame on the students channel
func (n *Notifier) allActiveChanged(event string, s events.Scope, active bool) {
	if !s.Stale {
		n.out.Broadcast(channel.Instructor(s.Lecture), event, types.ActiveNotice{
			LectureCode: s.Lecture,
			Active:      active,
			Students:    s.Roster,
		})
	}
	n.out.Broadcast(channel.Students(s.Lecture), event, types.ActiveNotice{
		LectureCode: s.Lecture,
		Active:      active,
	})
}

func (n *Notifier) onCodeActive(e events.CodeActiveChanged) {
	n.activeChanged(types.EventCodeActiveChanged, e.Scope, e.Active)
}

func (n *Notifier) onCodeAllActive(e events.CodeAllActiveChanged) {
	n.allActiveChanged(types.EventCodeAllActiveChanged, e.Scope, e.Active)
}

func (n *Notifier) onDroneActive(e events.DroneActiveChanged) {
	n.activeChanged(types.EventDroneActiveChanged, e.Scope, e.Active)
}

func (n *Notifier) onDroneAllActive(e events.DroneAllActiveChanged) {
	n.allActiveChanged(types.EventDroneAllActiveChanged, e.Scope, e.Active)
}
