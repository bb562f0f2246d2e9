package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"dronelab/internal/metrics"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

// Dispatcher decodes inbound frames, routes them to the gateway for the
// socket's role and answers the sender with an acknowledgment.
type Dispatcher struct {
	participants *ParticipantGateway
	supervisors  *SupervisorGateway
	limiter      *RateLimiter
}

func NewDispatcher(participants *ParticipantGateway, supervisors *SupervisorGateway, limiter *RateLimiter) *Dispatcher {
	return &Dispatcher{
		participants: participants,
		supervisors:  supervisors,
		limiter:      limiter,
	}
}

// ackEvents maps each inbound event to the acknowledgment it is answered with.
var ackEvents = map[string]map[string]string{
	types.RoleStudent: {
		types.EventJoinLecture:  types.AckJoinSuccess,
		types.EventLeaveLecture: types.AckLeaveResponse,
		types.EventCodeSubmit:   types.AckCodeSaved,
		types.EventDroneUpdate:  types.AckDroneSaved,
	},
	types.RoleInstructor: {
		types.EventJoinLecture:        types.AckJoinResponse,
		types.EventCodeSetActive:      types.AckCodeActiveSaved,
		types.EventCodeSetAllActive:   types.AckCodeActiveSaved,
		types.EventDroneSetActive:     types.AckDroneActiveSaved,
		types.EventDroneSetAllActive:  types.AckDroneActiveSaved,
		types.EventCodeInstructorEdit: types.AckInstructorEditSaved,
	},
}

// HandleFrame processes one inbound frame. Failures are reported to the
// sender only and never close the socket.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn interfaces.Connection, frame []byte) {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		d.fail(conn, types.EventError, ErrInvalidPayload)
		return
	}
	metrics.FramesReceived.WithLabelValues(env.Event).Inc()

	if d.limiter != nil && !d.limiter.Allow(conn.ID()) {
		metrics.FramesRateLimited.Inc()
		d.fail(conn, types.EventError, ErrRateLimited)
		return
	}

	ack, ok := ackEvents[conn.Role()][env.Event]
	if !ok {
		log.Debug().Str("module", "gateway").Str("conn", conn.ID()).Str("role", conn.Role()).Str("event", env.Event).Msg("unknown event")
		d.fail(conn, types.EventError, ErrUnknownEvent)
		return
	}

	var reply interface{}
	var err error
	if conn.Role() == types.RoleStudent {
		reply, err = d.handleStudent(ctx, conn, env)
	} else {
		reply, err = d.handleInstructor(ctx, conn, env)
	}
	if err != nil {
		d.fail(conn, ack, err)
		return
	}
	if reply == nil {
		reply = types.Ack{Success: true, Message: "ok"}
	}
	d.send(conn, ack, reply)
}

func (d *Dispatcher) handleStudent(ctx context.Context, conn interfaces.Connection, env types.Envelope) (interface{}, error) {
	switch env.Event {
	case types.EventJoinLecture:
		var req types.JoinRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return d.participants.Join(ctx, conn, &req)

	case types.EventLeaveLecture:
		var req types.LeaveRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return nil, d.participants.Leave(ctx, conn, &req)

	case types.EventCodeSubmit:
		var req types.CodeRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return nil, d.participants.SubmitCode(ctx, conn, &req)

	case types.EventDroneUpdate:
		var req types.DroneStatusRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return nil, d.participants.ReportDroneStatus(ctx, conn, &req)
	}
	return nil, ErrUnknownEvent
}

func (d *Dispatcher) handleInstructor(ctx context.Context, conn interfaces.Connection, env types.Envelope) (interface{}, error) {
	switch env.Event {
	case types.EventJoinLecture:
		var req types.JoinRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return d.supervisors.Join(ctx, conn, &req)

	case types.EventCodeSetActive, types.EventCodeSetAllActive,
		types.EventDroneSetActive, types.EventDroneSetAllActive:
		var req types.ActiveRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return nil, d.toggle(ctx, conn, env.Event, &req)

	case types.EventCodeInstructorEdit:
		var req types.CodeRequest
		if err := decode(env.Data, &req); err != nil {
			return nil, err
		}
		return nil, d.supervisors.EditCode(ctx, conn, &req)
	}
	return nil, ErrUnknownEvent
}

func (d *Dispatcher) toggle(ctx context.Context, conn interfaces.Connection, event string, req *types.ActiveRequest) error {
	switch event {
	case types.EventCodeSetActive:
		return d.supervisors.SetCodeActive(ctx, conn, req)
	case types.EventCodeSetAllActive:
		return d.supervisors.SetAllCodeActive(ctx, conn, req)
	case types.EventDroneSetActive:
		return d.supervisors.SetDroneActive(ctx, conn, req)
	default:
		return d.supervisors.SetAllDroneActive(ctx, conn, req)
	}
}

// HandleClose runs after the transport has closed.
func (d *Dispatcher) HandleClose(ctx context.Context, conn interfaces.Connection) {
	if d.limiter != nil {
		d.limiter.Forget(conn.ID())
	}
	if conn.Role() == types.RoleStudent {
		d.participants.Disconnected(ctx, conn)
		return
	}
	d.supervisors.Disconnected(conn)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

func (d *Dispatcher) fail(conn interfaces.Connection, event string, err error) {
	reason := Reason(err)
	metrics.FailedAcks.WithLabelValues(reason).Inc()
	if reason == ReasonStoreUnavailable || reason == ReasonInternal {
		log.Error().Str("module", "gateway").Str("conn", conn.ID()).Str("event", event).Err(err).Msg("request failed")
	}
	d.send(conn, event, types.Ack{Success: false, Message: err.Error(), Code: reason})
}

func (d *Dispatcher) send(conn interfaces.Connection, event string, payload interface{}) {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		log.Error().Str("module", "gateway").Str("event", event).Err(err).Msg("failed to encode acknowledgment")
		return
	}
	if err := conn.Send(frame); err != nil {
		metrics.FramesDropped.Inc()
		log.Debug().Str("module", "gateway").Str("conn", conn.ID()).Str("event", event).Err(err).Msg("failed to send acknowledgment")
	}
}
