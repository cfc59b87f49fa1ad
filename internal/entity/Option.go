package entity

type Option struct {
	ID       int64  `json:"id"`
	PollID   int64  `json:"poll_id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}
