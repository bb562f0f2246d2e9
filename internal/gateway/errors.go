package gateway

import "errors"

var (
	ErrCapabilityDenied   = errors.New("capability is disabled for this participant")
	ErrUnknownSession     = errors.New("lecture is not active")
	ErrUnknownParticipant = errors.New("participant is not part of this lecture")
	ErrNotJoined          = errors.New("connection has not joined this lecture")
	ErrAlreadyJoined      = errors.New("connection has already joined as another participant")
	ErrStoreUnavailable   = errors.New("session store unavailable")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrNameTaken          = errors.New("display name is already in use in this lecture")
	ErrForbidden          = errors.New("instructor does not own this lecture")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrUnknownEvent       = errors.New("unknown event")
)

// Wire reason codes carried in failure acknowledgments
const (
	ReasonCapabilityDenied   = "capability_denied"
	ReasonUnknownSession     = "unknown_session"
	ReasonUnknownParticipant = "unknown_participant"
	ReasonNotJoined          = "not_joined"
	ReasonAlreadyJoined      = "already_joined"
	ReasonStoreUnavailable   = "store_unavailable"
	ReasonInvalidPayload     = "invalid_payload"
	ReasonNameTaken          = "name_taken"
	ReasonForbidden          = "forbidden"
	ReasonRateLimited        = "rate_limited"
	ReasonInternal           = "internal"
)

// Reason maps a gateway error to its wire reason code.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCapabilityDenied):
		return ReasonCapabilityDenied
	case errors.Is(err, ErrUnknownSession):
		return ReasonUnknownSession
	case errors.Is(err, ErrUnknownParticipant):
		return ReasonUnknownParticipant
	case errors.Is(err, ErrNotJoined):
		return ReasonNotJoined
	case errors.Is(err, ErrAlreadyJoined):
		return ReasonAlreadyJoined
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStoreUnavailable
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownEvent):
		return ReasonInvalidPayload
	case errors.Is(err, ErrNameTaken):
		return ReasonNameTaken
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	default:
		return ReasonInternal
	}
}
