package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dronelab/internal/channel"
	"dronelab/internal/events"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

// SupervisorGateway handles instructor sockets.
type SupervisorGateway struct {
	core
	requireOwner bool
}

// NewSupervisorGateway creates the instructor handler. With requireOwner set
// only the lecture's instructor, as authenticated on the socket, may join.
func NewSupervisorGateway(lectures Lectures, st Store, channels Channels, bus Publisher, requireOwner bool) *SupervisorGateway {
	return &SupervisorGateway{
		core:         core{lectures: lectures, store: st, channels: channels, bus: bus},
		requireOwner: requireOwner,
	}
}

// Join binds the instructor socket and returns the full roster.
func (g *SupervisorGateway) Join(ctx context.Context, conn interfaces.Connection, req *types.JoinRequest) (*types.JoinResponse, error) {
	if !types.IsValidLectureCode(req.SessionID) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, types.ErrInvalidLectureCode)
	}
	release, err := g.enter(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	l, err := g.activeLecture(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if g.requireOwner && conn.Principal() != l.InstructorID {
		return nil, ErrForbidden
	}

	if err := g.channels.JoinAsSupervisor(req.SessionID, conn); err != nil {
		if errors.Is(err, channel.ErrAlreadyBound) {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	roster, err := g.roster(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "gateway").Str("lecture", req.SessionID).Str("conn", conn.ID()).Int("students", len(roster)).Msg("instructor joined")

	return &types.JoinResponse{
		Ack:         types.Ack{Success: true, Message: "joined lecture"},
		LectureCode: req.SessionID,
		Students:    roster,
	}, nil
}

func (g *SupervisorGateway) resolve(conn interfaces.Connection, sessionID string) (b channel.Binding, release func(), err error) {
	b, ok := g.channels.Binding(conn)
	if !ok || b.Role != types.RoleInstructor {
		return channel.Binding{}, nil, ErrNotJoined
	}
	if sessionID != "" && sessionID != b.Lecture {
		return channel.Binding{}, nil, ErrNotJoined
	}
	if release, err = g.enter(b.Lecture); err != nil {
		return channel.Binding{}, nil, err
	}
	if g.rebound(conn, b) {
		release()
		return channel.Binding{}, nil, ErrNotJoined
	}
	return b, release, nil
}

// SetCodeActive toggles one student's code editing.
func (g *SupervisorGateway) SetCodeActive(ctx context.Context, conn interfaces.Connection, req *types.ActiveRequest) error {
	b, release, err := g.resolve(conn, req.SessionID)
	if err != nil {
		return err
	}
	defer release()
	if err := g.knownParticipant(ctx, b.Lecture, req.ParticipantID); err != nil {
		return err
	}
	if err := g.store.SetCodeActive(ctx, b.Lecture, req.ParticipantID, req.Active); err != nil {
		return storeErr(err)
	}

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", req.ParticipantID).Bool("active", req.Active).Msg("code editing changed")

	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: req.ParticipantID}, func(s events.Scope) events.Event {
		return events.CodeActiveChanged{Scope: s, Active: req.Active}
	})
	return nil
}

// SetAllCodeActive toggles code editing for every student of the lecture.
func (g *SupervisorGateway) SetAllCodeActive(ctx context.Context, conn interfaces.Connection, req *types.ActiveRequest) error {
	b, release, err := g.resolve(conn, req.SessionID)
	if err != nil {
		return err
	}
	defer release()
	n, err := g.store.SetAllCodeActive(ctx, b.Lecture, req.Active)
	if err != nil {
		return storeErr(err)
	}

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Int("students", n).Bool("active", req.Active).Msg("code editing changed for all")

	g.publish(ctx, events.Scope{Lecture: b.Lecture}, func(s events.Scope) events.Event {
		return events.CodeAllActiveChanged{Scope: s, Active: req.Active}
	})
	return nil
}

// SetDroneActive toggles one student's drone control.
func (g *SupervisorGateway) SetDroneActive(ctx context.Context, conn interfaces.Connection, req *types.ActiveRequest) error {
	b, release, err := g.resolve(conn, req.SessionID)
	if err != nil {
		return err
	}
	defer release()
	if err := g.knownParticipant(ctx, b.Lecture, req.ParticipantID); err != nil {
		return err
	}
	if err := g.store.SetDroneActive(ctx, b.Lecture, req.ParticipantID, req.Active); err != nil {
		return storeErr(err)
	}

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", req.ParticipantID).Bool("active", req.Active).Msg("drone control changed")

	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: req.ParticipantID}, func(s events.Scope) events.Event {
		return events.DroneActiveChanged{Scope: s, Active: req.Active}
	})
	return nil
}

// SetAllDroneActive toggles drone control for every student of the lecture.
func (g *SupervisorGateway) SetAllDroneActive(ctx context.Context, conn interfaces.Connection, req *types.ActiveRequest) error {
	b, release, err := g.resolve(conn, req.SessionID)
	if err != nil {
		return err
	}
	defer release()
	n, err := g.store.SetAllDroneActive(ctx, b.Lecture, req.Active)
	if err != nil {
		return storeErr(err)
	}

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Int("students", n).Bool("active", req.Active).Msg("drone control changed for all")

	g.publish(ctx, events.Scope{Lecture: b.Lecture}, func(s events.Scope) events.Event {
		return events.DroneAllActiveChanged{Scope: s, Active: req.Active}
	})
	return nil
}

// EditCode overwrites a student's code. It ignores the student's code
// editing flag.
func (g *SupervisorGateway) EditCode(ctx context.Context, conn interfaces.Connection, req *types.CodeRequest) error {
	b, release, err := g.resolve(conn, req.SessionID)
	if err != nil {
		return err
	}
	defer release()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := g.knownParticipant(ctx, b.Lecture, req.ParticipantID); err != nil {
		return err
	}
	if err := g.store.SaveCode(ctx, b.Lecture, req.ParticipantID, req.Code); err != nil {
		return storeErr(err)
	}

	log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Str("student", req.ParticipantID).Msg("instructor edited code")

	g.publish(ctx, events.Scope{Lecture: b.Lecture, StudentID: req.ParticipantID}, func(s events.Scope) events.Event {
		return events.CodeUpdated{Scope: s, Code: req.Code, ByInstructor: true}
	})
	return nil
}

// Disconnected drops the instructor socket's bindings.
func (g *SupervisorGateway) Disconnected(conn interfaces.Connection) {
	if b, ok := g.channels.Disconnect(conn); ok {
		log.Info().Str("module", "gateway").Str("lecture", b.Lecture).Str("conn", conn.ID()).Msg("instructor disconnected")
	}
}
