package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"dronelab/internal/channel"
	"dronelab/pkg/types"
)

// Lectures is the registry the controller starts and ends lectures in.
type Lectures interface {
	Create(ctx context.Context, instructorID string) (*types.Lecture, error)
	Deactivate(ctx context.Context, code string) error
	IsActive(code string) bool
	Exclusive(code string) (release func())
}

// Purger deletes a lecture's session state.
type Purger interface {
	Purge(ctx context.Context, lecture string) error
}

// Channels is the socket side of ending a lecture.
type Channels interface {
	Broadcast(channel, event string, payload interface{}) int
	EvictSession(lecture string) int
}

// Controller is the only component allowed to end a lecture.
type Controller struct {
	lectures Lectures
	store    Purger
	channels Channels
}

func NewController(lectures Lectures, store Purger, channels Channels) *Controller {
	return &Controller{lectures: lectures, store: store, channels: channels}
}

// Start allocates a new lecture. No sockets are involved until participants
// and the instructor join.
func (c *Controller) Start(ctx context.Context, instructorID string) (*types.Lecture, error) {
	return c.lectures.Create(ctx, instructorID)
}

// End deactivates the lecture, tells every bound socket, purges the session
// state and unbinds all sockets. Ending an unknown or ended lecture only
// repeats the purge and eviction, which are both idempotent. It waits for
// gateway actions already inside the lecture to finish first.
func (c *Controller) End(ctx context.Context, code string) error {
	release := c.lectures.Exclusive(code)
	defer release()

	if c.lectures.IsActive(code) {
		if err := c.lectures.Deactivate(ctx, code); err != nil {
			return fmt.Errorf("failed to deactivate lecture %s: %w", code, err)
		}
		c.channels.Broadcast(channel.Session(code), types.EventLectureEnded, types.LectureEnded{
			LectureCode: code,
			Message:     "the lecture has ended",
		})
	}

	purgeErr := c.store.Purge(ctx, code)
	evicted := c.channels.EvictSession(code)

	log.Info().Str("module", "lifecycle").Str("lecture", code).Int("evicted", evicted).Msg("lecture ended")

	if purgeErr != nil {
		return fmt.Errorf("failed to purge lecture %s: %w", code, purgeErr)
	}
	return nil
}
