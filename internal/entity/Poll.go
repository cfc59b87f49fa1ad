package entity

import "time"

type PollStatus string

const (
	PollStatusOpen   PollStatus = "open"
	PollStatusClosed PollStatus = "closed"
)

type Poll struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	CreatorID   string     `json:"creator_id"`
	WardID      int64      `json:"ward_id"`
	Status      PollStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}
