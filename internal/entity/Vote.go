package entity

import (
	"time"

	"github.com/google/uuid"
)

// Vote is an accepted ballot. At most one vote may ever exist for a given
// (user, poll) pair; the votes table enforces this with a unique constraint.
type Vote struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	PollID   int64     `json:"poll_id"`
	OptionID int64     `json:"option_id"`
	VotedAt  time.Time `json:"voted_at"`
}
