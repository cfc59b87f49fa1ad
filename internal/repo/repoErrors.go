package repo

import "errors"

var (
	ErrPollNotFound    = errors.New("poll not found")
	ErrPollClosed      = errors.New("poll is closed")
	ErrOptionNotInPoll = errors.New("option does not belong to poll")
	ErrAlreadyVoted    = errors.New("user has already voted on this poll")
)
