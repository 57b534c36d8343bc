package domain

import "errors"

// Error taxonomy for admission and relay operations.
//
// ErrInvalidCredentials covers both a bad password and an absent room so a
// caller cannot probe which room identities exist. It is terminal for the
// session: clients must not auto-retry after it.
var (
	ErrInvalidCredentials = errors.New("invalid room/password")
	ErrRoomExists         = errors.New("room already exists")
	ErrCapacity           = errors.New("too many connections from your IP in this room")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrValidation         = errors.New("invalid input")
	ErrAlreadyJoined      = errors.New("already joined this room")
	ErrNotInRoom          = errors.New("not in room")
	ErrInternal           = errors.New("internal error")
)

// Recoverable reports whether the caller may retry the same operation
// later. Only rate-limit class failures roll over on their own; auth,
// capacity and validation failures need caller action first.
func Recoverable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// ExternalMessage maps an error to the text exposed to clients. Internal
// details never leak; anything unclassified degrades to a generic message.
func ExternalMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid room/password"
	case errors.Is(err, ErrRoomExists):
		return "Room already exists"
	case errors.Is(err, ErrCapacity):
		return "Too many connections from your IP in this room"
	case errors.Is(err, ErrAlreadyJoined):
		return "Already joined this room"
	case errors.Is(err, ErrNotInRoom):
		return "Not in room"
	case errors.Is(err, ErrValidation):
		return "Invalid request"
	case errors.Is(err, ErrRateLimited):
		return "Too many requests, slow down"
	default:
		return "Internal error"
	}
}
