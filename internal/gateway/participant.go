package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dronelab/internal/channel"
	"dronelab/internal/events"
	"dronelab/internal/metrics"
	"dronelab/internal/store"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

// ParticipantGateway handles student sockets.
type ParticipantGateway struct {
	core
	template string
}

func NewParticipantGateway(lectures Lectures, st Store, channels Channels, bus Publisher, template string) *ParticipantGateway {
	return &ParticipantGateway{
		core:     core{lectures: lectures, store: st, channels: channels, bus: bus},
		template: template,
	}
}

// Join registers the student in the lecture, binds the socket and returns
// the reconciliation snapshot: stored code and both flags.
func (g *ParticipantGateway) Join(ctx context.Context, conn interfaces.Connection, req *types.JoinRequest) (*types.JoinSuccess, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	release, err := g.enter(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	if _, err := g.activeLecture(ctx, req.SessionID); err != nil {
		return nil, err
	}
	if b, ok := g.channels.Binding(conn); ok && (b.Role != types.RoleStudent || b.Lecture != req.SessionID || b.StudentID != req.ParticipantID) {
		return nil, ErrAlreadyJoined
	}

	taken, err := g.store.NameTaken(ctx, req.SessionID, req.ParticipantID, req.Name)
	if err != nil {
		return nil, storeErr(err)
	}
	if taken {
		return nil, ErrNameTaken
	}

	p, err := g.store.RegisterParticipant(ctx, req.SessionID, req.ParticipantID, req.Name, g.template)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := g.channels.JoinAsParticipant(req.SessionID, req.ParticipantID, conn); err != nil {
		if errors.Is(err, channel.ErrAlreadyBound) {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	log.Info().Str("module", "gateway").Str("lecture", req.SessionID).Str("student", req.ParticipantID).Str("conn", conn.ID()).Msg("student joined")

	g.publish(ctx, events.Scope{Lecture: req.SessionID, StudentID: req.ParticipantID}, func(s events.Scope) events.Event {
		return events.ParticipantJoined{Scope: s}
	})

	return &types.JoinSuccess{
		Ack:         types.Ack{Success: true, Message: "joined lecture"},
		LectureCode: req.SessionID,
		StudentID:   req.ParticipantID,
		Code:        p.Code,
		CodeActive:  p.CodeActive,
		DroneActive: p.DroneActive,
	}, nil
}

// resolve checks the socket is bound as the student it claims to be and
// enters the lecture. Empty ids in the request are taken from the binding.
// The caller must call release once its writes are done.
func (g *ParticipantGateway) resolve(conn interfaces.Connection, sessionID, participantID string) (b channel.Binding, release func(), err error) {
	b, ok := g.channels.Binding(conn)
	if !ok || b.Role != types.RoleStudent {
		return channel.Binding{}, nil, ErrNotJoined
	}
	if (sessionID != "" && sessionID != b.Lecture) || (participantID != "" && participantID != b.StudentID) {
		return channel.Binding{}, nil, ErrNotJoined
	}
	if release, err = g.enter(b.Lecture); err != nil {
		return channel.Binding{}, nil, err
	}
	// an End that finished before we entered has already evicted the socket
	if g.rebound(conn, b) {
		release()
		return channel.Binding{}, nil, ErrNotJoined
	}
	return b, release, nil
}

// SubmitCode stores the student's code unless code editing is disabled.
func (g *ParticipantGateway) SubmitCode(ctx context.Context, conn interfaces.Connection, req *types.CodeRequest) error {
	b, release, err := g.resolve(conn, req.SessionID, req.ParticipantID)
	if err != nil {
		return err
	}
	defer release()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	active, err := g.store.CodeActive(ctx, b.Lecture, b.StudentID)
	if err != nil {
		return storeErr(err)
	}
	if !active {
		metrics.CapabilityDenied.WithLabelValues("code").Inc()
		log.Debug().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", b.StudentID).Msg("code submit denied")
		return ErrCapabilityDenied
	}

	if err := g.store.SaveCode(ctx, b.Lecture, b.StudentID, req.Code); err != nil {
		return storeErr(err)
	}

	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: b.StudentID}, func(s events.Scope) events.Event {
		return events.CodeUpdated{Scope: s, Code: req.Code}
	})
	return nil
}

// ReportDroneStatus stores the drone status unless drone control is disabled.
func (g *ParticipantGateway) ReportDroneStatus(ctx context.Context, conn interfaces.Connection, req *types.DroneStatusRequest) error {
	b, release, err := g.resolve(conn, req.SessionID, req.ParticipantID)
	if err != nil {
		return err
	}
	defer release()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	active, err := g.store.DroneActive(ctx, b.Lecture, b.StudentID)
	if err != nil {
		return storeErr(err)
	}
	if !active {
		metrics.CapabilityDenied.WithLabelValues("drone").Inc()
		log.Debug().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", b.StudentID).Msg("drone update denied")
		return ErrCapabilityDenied
	}

	if err := g.store.SaveDroneStatus(ctx, b.Lecture, b.StudentID, req.Status); err != nil {
		return storeErr(err)
	}

	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: b.StudentID}, func(s events.Scope) events.Event {
		return events.DroneUpdated{Scope: s, Status: req.Status}
	})
	return nil
}

// Leave removes the student's presence and unbinds the socket. Leaving from
// an unbound socket succeeds without doing anything. The socket stays bound
// when the presence cannot be removed so the leave can be retried.
func (g *ParticipantGateway) Leave(ctx context.Context, conn interfaces.Connection, req *types.LeaveRequest) error {
	b, ok := g.channels.Binding(conn)
	if !ok {
		return nil
	}
	if b.Role != types.RoleStudent {
		return ErrNotJoined
	}
	if (req.SessionID != "" && req.SessionID != b.Lecture) || (req.ParticipantID != "" && req.ParticipantID != b.StudentID) {
		return ErrNotJoined
	}

	release, err := g.enter(b.Lecture)
	if err != nil {
		// ended lectures have no presence left to remove
		g.channels.Leave(b.Lecture, b.StudentID, conn)
		return nil
	}
	defer release()
	if g.rebound(conn, b) {
		return nil
	}

	if err := g.store.RemovePresence(ctx, b.Lecture, b.StudentID); err != nil {
		return storeErr(err)
	}
	g.channels.Leave(b.Lecture, b.StudentID, conn)

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", b.StudentID).Msg("student left")

	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: b.StudentID}, func(s events.Scope) events.Event {
		return events.ParticipantLeft{Scope: s}
	})
	return nil
}

// Disconnected collects the socket's bindings after the transport closed.
// The student's stored state is kept for a later rejoin.
func (g *ParticipantGateway) Disconnected(ctx context.Context, conn interfaces.Connection) {
	b, ok := g.channels.Disconnect(conn)
	if !ok || b.Role != types.RoleStudent {
		return
	}

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", b.StudentID).Str("conn", conn.ID()).Msg("student disconnected")

	release, ok := g.lectures.Enter(b.Lecture)
	if !ok {
		return
	}
	defer release()
	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: b.StudentID}, func(s events.Scope) events.Event {
		return events.ParticipantDisconnected{Scope: s}
	})
}

// knownParticipant is shared by supervisor actions that target one student.
func (c *core) knownParticipant(ctx context.Context, code, studentID string) error {
	if !types.IsValidUserID(studentID) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, types.ErrInvalidUserID)
	}
	_, err := c.store.Participant(ctx, code, studentID)
	if errors.Is(err, store.ErrParticipantUnknown) {
		return ErrUnknownParticipant
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}
