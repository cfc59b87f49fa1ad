package entity

import "time"

// Tally is the derived per-option vote count for one poll. It is rebuilt
// from the votes table and carries no independent truth. Stale is set when
// the last recomputation failed and the snapshot may lag the ledger.
type Tally struct {
	PollID     int64           `json:"poll_id"`
	Counts     map[int64]int64 `json:"counts"`
	Total      int64           `json:"total"`
	ComputedAt time.Time       `json:"computed_at"`
	Stale      bool            `json:"stale"`
}
