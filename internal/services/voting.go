package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/entity"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/geo"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/notify"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/repo"
	"github.com/rishabh19bvp/Opinify-MVP-V3/utils"
)

type VoteLedger interface {
	SaveVote(ctx context.Context, userID string, pollID, optionID int64) (entity.Vote, error)
}

type PollProvider interface {
	GetPollByID(ctx context.Context, id int64) (entity.Poll, error)
	GetPollsByWardID(ctx context.Context, wardID int64) ([]entity.Poll, error)
	GetOptionsByPollID(ctx context.Context, pollID int64) ([]entity.Option, error)
}

type TallyProvider interface {
	GetTally(ctx context.Context, pollID int64) (entity.Tally, error)
	Recompute(ctx context.Context, pollID int64) (entity.Tally, error)
}

type Notifier interface {
	Subscribe(pollID int64) *notify.Subscription
	Publish(event notify.Event)
}

// PollVoting orchestrates a vote request: validate the poll and option,
// commit through the ledger, refresh the tally, notify subscribers.
// Identity is already verified by the time a request reaches this service.
type PollVoting struct {
	log           *slog.Logger
	ledger        VoteLedger
	pollProvider  PollProvider
	tallyProvider TallyProvider
	notifier      Notifier
	wardResolver  geo.Resolver
	commitRetries int
	retryBackoff  time.Duration
}

func NewPollVoting(
	log *slog.Logger,
	ledger VoteLedger,
	pollProvider PollProvider,
	tallyProvider TallyProvider,
	notifier Notifier,
	wardResolver geo.Resolver,
	commitRetries int,
	retryBackoff time.Duration,
) *PollVoting {
	if commitRetries < 1 {
		commitRetries = 1
	}
	return &PollVoting{
		log:           log,
		ledger:        ledger,
		pollProvider:  pollProvider,
		tallyProvider: tallyProvider,
		notifier:      notifier,
		wardResolver:  wardResolver,
		commitRetries: commitRetries,
		retryBackoff:  retryBackoff,
	}
}

// PollSummary is a poll with its options, the shape served on ward feeds.
type PollSummary struct {
	entity.Poll
	Options []entity.Option `json:"options"`
}

// CastVote validates and commits one vote. Precondition failures are
// terminal and never retried. The one-vote rule is not checked here: the
// ledger's constrained insert is the arbiter, and its conflict signal comes
// back as ErrAlreadyVoted even under concurrent duplicates.
func (v *PollVoting) CastVote(ctx context.Context, userID string, pollID, optionID int64) (entity.Vote, error) {
	const op = "PollVoting.CastVote"

	log := v.log.With(slog.String("op", op), slog.Int64("pollID", pollID), slog.Int64("optionID", optionID))

	poll, err := v.pollProvider.GetPollByID(ctx, pollID)
	if err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrPollClosedOrNotFound)
		}
		log.Error("failed to load poll", utils.Err(err))
		return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}
	if poll.Status != entity.PollStatusOpen {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrPollClosedOrNotFound)
	}

	options, err := v.pollProvider.GetOptionsByPollID(ctx, pollID)
	if err != nil {
		log.Error("failed to load options", utils.Err(err))
		return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}
	if !optionBelongsToPoll(options, optionID) {
		return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrOptionNotInPoll)
	}

	vote, err := v.commitWithRetry(ctx, userID, pollID, optionID)
	if err != nil {
		if errors.Is(err, ErrAlreadyVoted) {
			return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrAlreadyVoted)
		}
		log.Error("vote commit failed after retries", utils.Err(err))
		return entity.Vote{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	// The vote is durable. Recompute and fan-out run on a context detached
	// from the request so a client disconnect cannot interrupt them, and
	// their failures never surface as a vote failure.
	postCtx := context.WithoutCancel(ctx)
	if _, err := v.tallyProvider.Recompute(postCtx, pollID); err != nil {
		log.Warn("post-commit tally recompute failed", utils.Err(err))
	}
	v.notifier.Publish(notify.Event{PollID: pollID, Reason: notify.ReasonVoteCommitted})

	log.Info("vote committed", slog.String("voteID", vote.ID.String()))
	return vote, nil
}

func (v *PollVoting) commitWithRetry(ctx context.Context, userID string, pollID, optionID int64) (entity.Vote, error) {
	backoff := v.retryBackoff

	var lastErr error
	for attempt := 0; attempt < v.commitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return entity.Vote{}, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		vote, err := v.ledger.SaveVote(ctx, userID, pollID, optionID)
		if err == nil {
			return vote, nil
		}
		if errors.Is(err, repo.ErrAlreadyVoted) {
			return entity.Vote{}, ErrAlreadyVoted
		}
		lastErr = err
	}

	return entity.Vote{}, lastErr
}

// GetTally serves the current per-option counts for a poll. A failed
// recompute degrades to the last-known snapshot flagged stale instead of
// failing the read; only a poll with no snapshot at all is unavailable.
func (v *PollVoting) GetTally(ctx context.Context, pollID int64) (entity.Tally, error) {
	const op = "PollVoting.GetTally"

	if _, err := v.pollProvider.GetPollByID(ctx, pollID); err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			return entity.Tally{}, fmt.Errorf("%s: %w", op, ErrPollClosedOrNotFound)
		}
		return entity.Tally{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	tally, err := v.tallyProvider.GetTally(ctx, pollID)
	if err != nil {
		if tally.Counts != nil {
			v.log.Warn("serving stale tally snapshot", slog.Int64("pollID", pollID), utils.Err(err))
			return tally, nil
		}
		return entity.Tally{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	return tally, nil
}

// ForceRecount bypasses the cache and rebuilds the tally from the ledger.
func (v *PollVoting) ForceRecount(ctx context.Context, pollID int64) (entity.Tally, error) {
	const op = "PollVoting.ForceRecount"

	if _, err := v.pollProvider.GetPollByID(ctx, pollID); err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			return entity.Tally{}, fmt.Errorf("%s: %w", op, ErrPollClosedOrNotFound)
		}
		return entity.Tally{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	tally, err := v.tallyProvider.Recompute(ctx, pollID)
	if err != nil {
		return entity.Tally{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	return tally, nil
}

// ResolveWard maps a coordinate to the containing ward.
func (v *PollVoting) ResolveWard(lat, lon float64) (entity.Ward, error) {
	const op = "PollVoting.ResolveWard"

	ward, err := v.wardResolver.ResolveWard(lat, lon)
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrInvalidCoordinate):
			return entity.Ward{}, fmt.Errorf("%s: %w", op, ErrInvalidCoordinate)
		case errors.Is(err, geo.ErrWardNotFound):
			return entity.Ward{}, fmt.Errorf("%s: %w", op, ErrWardNotFound)
		default:
			return entity.Ward{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	return ward, nil
}

// PollsByWard lists the polls scoped to a ward together with their options.
func (v *PollVoting) PollsByWard(ctx context.Context, wardID int64) ([]PollSummary, error) {
	const op = "PollVoting.PollsByWard"

	polls, err := v.pollProvider.GetPollsByWardID(ctx, wardID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	summaries := make([]PollSummary, 0, len(polls))
	for _, poll := range polls {
		options, err := v.pollProvider.GetOptionsByPollID(ctx, poll.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
		}
		summaries = append(summaries, PollSummary{Poll: poll, Options: options})
	}

	return summaries, nil
}

// GetPollByID returns a single poll with its options.
func (v *PollVoting) GetPollByID(ctx context.Context, pollID int64) (PollSummary, error) {
	const op = "PollVoting.GetPollByID"

	poll, err := v.pollProvider.GetPollByID(ctx, pollID)
	if err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			return PollSummary{}, fmt.Errorf("%s: %w", op, ErrPollClosedOrNotFound)
		}
		return PollSummary{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	options, err := v.pollProvider.GetOptionsByPollID(ctx, pollID)
	if err != nil {
		return PollSummary{}, fmt.Errorf("%s: %w", op, ErrTemporarilyUnavailable)
	}

	return PollSummary{Poll: poll, Options: options}, nil
}

// SubscribeTally registers a live subscription for a poll and returns it
// together with the current tally. Subscribing before reading the snapshot
// closes the gap: a vote committed after the snapshot read produces an
// event, a vote committed before it is already in the snapshot.
func (v *PollVoting) SubscribeTally(ctx context.Context, pollID int64) (*notify.Subscription, entity.Tally, error) {
	const op = "PollVoting.SubscribeTally"

	sub := v.notifier.Subscribe(pollID)

	tally, err := v.GetTally(ctx, pollID)
	if err != nil {
		sub.Close()
		return nil, entity.Tally{}, fmt.Errorf("%s: %w", op, err)
	}

	return sub, tally, nil
}

func optionBelongsToPoll(options []entity.Option, optionID int64) bool {
	for _, option := range options {
		if option.ID == optionID {
			return true
		}
	}
	return false
}
