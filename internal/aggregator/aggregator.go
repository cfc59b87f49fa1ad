package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/entity"
)

// CountSource supplies authoritative counts for a poll. Recomputation always
// reads through it at recompute time, never from a previously derived value.
type CountSource interface {
	CountVotesByOption(ctx context.Context, pollID int64) (map[int64]int64, error)
	GetOptionsByPollID(ctx context.Context, pollID int64) ([]entity.Option, error)
}

// Aggregator caches one tally snapshot per poll. Snapshots are immutable and
// replaced wholesale, so readers see either the old or the new complete
// tally, never a half-updated one. Recomputation is serialized per poll:
// whichever recompute acquires the poll lock later also reads the ledger
// later, so the snapshot that ends up cached always reflects the
// later-observed ledger state regardless of completion order.
type Aggregator struct {
	log    *slog.Logger
	source CountSource

	mu        sync.RWMutex
	snapshots map[int64]entity.Tally

	lockMu    sync.Mutex
	pollLocks map[int64]*sync.Mutex
}

func New(log *slog.Logger, source CountSource) *Aggregator {
	return &Aggregator{
		log:       log,
		source:    source,
		snapshots: make(map[int64]entity.Tally),
		pollLocks: make(map[int64]*sync.Mutex),
	}
}

// GetTally returns the cached snapshot for the poll, computing one on a
// cache miss. A snapshot flagged stale is still served; callers that need a
// fresh value use Recompute.
func (a *Aggregator) GetTally(ctx context.Context, pollID int64) (entity.Tally, error) {
	a.mu.RLock()
	tally, ok := a.snapshots[pollID]
	a.mu.RUnlock()
	if ok {
		return tally, nil
	}
	return a.Recompute(ctx, pollID)
}

// Recompute rebuilds the snapshot for one poll from the ledger and swaps it
// in. On failure the previous snapshot, if any, is kept and flagged stale;
// the read path keeps serving it.
func (a *Aggregator) Recompute(ctx context.Context, pollID int64) (entity.Tally, error) {
	const op = "aggregator.Recompute"

	lock := a.pollLock(pollID)
	lock.Lock()
	defer lock.Unlock()

	counts, err := a.source.CountVotesByOption(ctx, pollID)
	if err != nil {
		return a.markStale(pollID), fmt.Errorf("%s: %w", op, err)
	}

	options, err := a.source.GetOptionsByPollID(ctx, pollID)
	if err != nil {
		return a.markStale(pollID), fmt.Errorf("%s: %w", op, err)
	}

	tally := entity.Tally{
		PollID:     pollID,
		Counts:     make(map[int64]int64, len(options)),
		ComputedAt: time.Now(),
	}
	for _, option := range options {
		tally.Counts[option.ID] = counts[option.ID]
		tally.Total += counts[option.ID]
	}

	a.mu.Lock()
	a.snapshots[pollID] = tally
	a.mu.Unlock()

	return tally, nil
}

// Invalidate drops the cached snapshot so the next read recomputes.
func (a *Aggregator) Invalidate(pollID int64) {
	a.mu.Lock()
	delete(a.snapshots, pollID)
	a.mu.Unlock()
}

func (a *Aggregator) markStale(pollID int64) entity.Tally {
	a.log.Warn("tally recompute failed, keeping last snapshot", slog.Int64("pollID", pollID))

	a.mu.Lock()
	defer a.mu.Unlock()

	tally, ok := a.snapshots[pollID]
	if !ok {
		return entity.Tally{PollID: pollID, Stale: true}
	}
	if !tally.Stale {
		stale := tally
		stale.Stale = true
		// Counts map is shared with the old snapshot but never mutated.
		a.snapshots[pollID] = stale
		tally = stale
	}
	return tally
}

func (a *Aggregator) pollLock(pollID int64) *sync.Mutex {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()

	lock, ok := a.pollLocks[pollID]
	if !ok {
		lock = &sync.Mutex{}
		a.pollLocks[pollID] = lock
	}
	return lock
}
