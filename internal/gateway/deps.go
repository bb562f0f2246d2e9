package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dronelab/internal/channel"
	"dronelab/internal/events"
	"dronelab/internal/lecture"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

// Lectures is the part of the lecture registry the gateways read. Enter
// keeps the lecture from ending while an action writes to its state.
type Lectures interface {
	GetActive(ctx context.Context, code string) (*types.Lecture, error)
	IsActive(code string) bool
	Enter(code string) (release func(), ok bool)
}

// Store is the session state the gateways read and write.
type Store interface {
	RegisterParticipant(ctx context.Context, lecture, studentID, name, template string) (*types.Participant, error)
	RemovePresence(ctx context.Context, lecture, studentID string) error
	SaveCode(ctx context.Context, lecture, studentID, code string) error
	SaveDroneStatus(ctx context.Context, lecture, studentID, status string) error
	CodeActive(ctx context.Context, lecture, studentID string) (bool, error)
	DroneActive(ctx context.Context, lecture, studentID string) (bool, error)
	SetCodeActive(ctx context.Context, lecture, studentID string, active bool) error
	SetDroneActive(ctx context.Context, lecture, studentID string, active bool) error
	SetAllCodeActive(ctx context.Context, lecture string, active bool) (int, error)
	SetAllDroneActive(ctx context.Context, lecture string, active bool) (int, error)
	Participant(ctx context.Context, lecture, studentID string) (*types.Participant, error)
	Roster(ctx context.Context, lecture string, connected map[string]bool) ([]types.RosterEntry, error)
	NameTaken(ctx context.Context, lecture, studentID, name string) (bool, error)
}

// Channels is the binding side of the channel manager.
type Channels interface {
	JoinAsParticipant(lecture, studentID string, conn interfaces.Connection) error
	JoinAsSupervisor(lecture string, conn interfaces.Connection) error
	Leave(lecture, studentID string, conn interfaces.Connection) bool
	Disconnect(conn interfaces.Connection) (channel.Binding, bool)
	Binding(conn interfaces.Connection) (channel.Binding, bool)
	ConnectedParticipants(lecture string) map[string]bool
}

// Publisher accepts domain events.
type Publisher interface {
	Publish(e events.Event) error
}

// Broadcaster fans a payload out to a channel.
type Broadcaster interface {
	Broadcast(channel, event string, payload interface{}) int
}

// core holds what both gateways share.
type core struct {
	lectures Lectures
	store    Store
	channels Channels
	bus      Publisher
}

// enter holds the lecture open for the rest of an action.
func (c *core) enter(code string) (func(), error) {
	release, ok := c.lectures.Enter(code)
	if !ok {
		return nil, ErrUnknownSession
	}
	return release, nil
}

// rebound reports whether conn lost or changed its binding since b was read.
func (c *core) rebound(conn interfaces.Connection, b channel.Binding) bool {
	now, ok := c.channels.Binding(conn)
	return !ok || now != b
}

func (c *core) activeLecture(ctx context.Context, code string) (*types.Lecture, error) {
	l, err := c.lectures.GetActive(ctx, code)
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, lecture.ErrLectureNotFound),
		errors.Is(err, lecture.ErrLectureEnded),
		errors.Is(err, lecture.ErrInvalidCode):
		return nil, ErrUnknownSession
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (c *core) roster(ctx context.Context, code string) ([]types.RosterEntry, error) {
	roster, err := c.store.Roster(ctx, code, c.channels.ConnectedParticipants(code))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return roster, nil
}

// publish attaches the current roster to the event and hands it to the bus.
// When the roster cannot be read the event goes out marked stale, so
// supervisors keep their last roster while students still get their notices.
func (c *core) publish(ctx context.Context, scope events.Scope, build func(events.Scope) events.Event) {
	roster, err := c.roster(ctx, scope.Lecture)
	if err != nil {
		log.Warn().Str("module", "gateway").Str("lecture", scope.Lecture).Err(err).Msg("skipping roster refresh")
		scope.Stale = true
	}
	scope.Roster = roster

	e := build(scope)
	if err := c.bus.Publish(e); err != nil {
		log.Warn().Str("module", "gateway").Str("lecture", scope.Lecture).Str("event", e.Name()).Err(err).Msg("failed to publish event")
	}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
