package services

import "errors"

// Rejection reasons surfaced to clients. Every rejection carries one of
// these stable codes; raw storage error text never leaves the service.
var (
	ErrInvalidCoordinate      = errors.New("coordinate out of range")
	ErrWardNotFound           = errors.New("no ward contains the coordinate")
	ErrUnauthenticated        = errors.New("identity could not be verified")
	ErrPollClosedOrNotFound   = errors.New("poll is closed or does not exist")
	ErrOptionNotInPoll        = errors.New("option does not belong to the poll")
	ErrAlreadyVoted           = errors.New("user has already voted on this poll")
	ErrTemporarilyUnavailable = errors.New("service temporarily unavailable")
)

// ReasonCode returns the machine-readable code for a rejection.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCoordinate):
		return "InvalidCoordinate"
	case errors.Is(err, ErrWardNotFound):
		return "WardNotFound"
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	case errors.Is(err, ErrPollClosedOrNotFound):
		return "PollClosedOrNotFound"
	case errors.Is(err, ErrOptionNotInPoll):
		return "OptionNotInPoll"
	case errors.Is(err, ErrAlreadyVoted):
		return "AlreadyVoted"
	case errors.Is(err, ErrTemporarilyUnavailable):
		return "TemporarilyUnavailable"
	default:
		return "Internal"
	}
}
