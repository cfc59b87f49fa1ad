package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/aggregator"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/entity"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/geo"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/notify"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

var errConnRefused = errors.New("connection refused")

// fakeStore stands in for postgres: votes are kept in a mutex-guarded map
// keyed by (user, poll), so the uniqueness arbiter behaves like the real
// constraint, including under concurrent SaveVote calls.
type fakeStore struct {
	mu           sync.Mutex
	polls        map[int64]entity.Poll
	options      map[int64][]entity.Option
	votes        map[string]entity.Vote
	saveFailures int
	countFail    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		polls:   make(map[int64]entity.Poll),
		options: make(map[int64][]entity.Option),
		votes:   make(map[string]entity.Vote),
	}
}

func voteKey(userID string, pollID int64) string {
	return fmt.Sprintf("%s|%d", userID, pollID)
}

func (f *fakeStore) SaveVote(_ context.Context, userID string, pollID, optionID int64) (entity.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveFailures > 0 {
		f.saveFailures--
		return entity.Vote{}, errConnRefused
	}

	key := voteKey(userID, pollID)
	if _, exists := f.votes[key]; exists {
		return entity.Vote{}, repo.ErrAlreadyVoted
	}

	vote := entity.Vote{
		ID:       uuid.New(),
		UserID:   userID,
		PollID:   pollID,
		OptionID: optionID,
		VotedAt:  time.Now(),
	}
	f.votes[key] = vote
	return vote, nil
}

func (f *fakeStore) GetPollByID(_ context.Context, id int64) (entity.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	poll, ok := f.polls[id]
	if !ok {
		return entity.Poll{}, repo.ErrPollNotFound
	}
	return poll, nil
}

func (f *fakeStore) GetPollsByWardID(_ context.Context, wardID int64) ([]entity.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var polls []entity.Poll
	for _, poll := range f.polls {
		if poll.WardID == wardID {
			polls = append(polls, poll)
		}
	}
	return polls, nil
}

func (f *fakeStore) GetOptionsByPollID(_ context.Context, pollID int64) ([]entity.Option, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[pollID], nil
}

func (f *fakeStore) CountVotesByOption(_ context.Context, pollID int64) (map[int64]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countFail {
		return nil, errConnRefused
	}
	counts := make(map[int64]int64)
	for _, vote := range f.votes {
		if vote.PollID == pollID {
			counts[vote.OptionID]++
		}
	}
	return counts, nil
}

func (f *fakeStore) voteCount(pollID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, vote := range f.votes {
		if vote.PollID == pollID {
			n++
		}
	}
	return n
}

const (
	testPollID   = int64(1)
	testOptionO1 = int64(10)
	testOptionO2 = int64(20)
)

func newTestService(t *testing.T) (*PollVoting, *fakeStore, *notify.Hub) {
	t.Helper()

	store := newFakeStore()
	store.polls[testPollID] = entity.Poll{
		ID:     testPollID,
		Title:  "Should the lake road be pedestrianized?",
		WardID: 1,
		Status: entity.PollStatusOpen,
	}
	store.options[testPollID] = []entity.Option{
		{ID: testOptionO1, PollID: testPollID, Text: "Yes", Position: 0},
		{ID: testOptionO2, PollID: testPollID, Text: "No", Position: 1},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := notify.NewHub(log)

	wardIndex, err := geo.NewIndex([]entity.Ward{{
		ID:   1,
		Name: "Shivajinagar",
		Boundary: []entity.Ring{{
			{Lat: 18.50, Lon: 73.80},
			{Lat: 18.50, Lon: 73.86},
			{Lat: 18.55, Lon: 73.86},
			{Lat: 18.55, Lon: 73.80},
		}},
	}})
	require.NoError(t, err)

	service := NewPollVoting(log, store, store, aggregator.New(log, store), hub, wardIndex, 3, time.Millisecond)
	return service, store, hub
}

func TestCastVote_Success(t *testing.T) {
	service, store, _ := newTestService(t)
	userID := gofakeit.UUID()

	vote, err := service.CastVote(context.Background(), userID, testPollID, testOptionO1)
	require.NoError(t, err)
	assert.Equal(t, userID, vote.UserID)
	assert.Equal(t, testOptionO1, vote.OptionID)
	assert.Equal(t, 1, store.voteCount(testPollID))

	// The committing request reads its own write.
	tally, err := service.GetTally(context.Background(), testPollID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{testOptionO1: 1, testOptionO2: 0}, tally.Counts)
}

func TestCastVote_ConcurrentSameUserExactlyOneSucceeds(t *testing.T) {
	service, store, _ := newTestService(t)
	userID := gofakeit.UUID()

	const attempts = 32
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		optionID := testOptionO1
		if i%2 == 1 {
			optionID = testOptionO2
		}
		go func(optionID int64) {
			defer wg.Done()
			_, err := service.CastVote(context.Background(), userID, testPollID, optionID)
			results <- err
		}(optionID)
	}
	wg.Wait()
	close(results)

	successes, rejections := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyVoted)
		rejections++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, rejections)
	assert.Equal(t, 1, store.voteCount(testPollID))

	tally, err := service.GetTally(context.Background(), testPollID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Total)
}

func TestCastVote_TerminalRejections(t *testing.T) {
	service, store, _ := newTestService(t)
	store.polls[2] = entity.Poll{ID: 2, WardID: 1, Status: entity.PollStatusClosed}
	store.options[2] = []entity.Option{{ID: 30, PollID: 2}}

	tests := []struct {
		name     string
		pollID   int64
		optionID int64
		wantErr  error
		wantCode string
	}{
		{"nonexistent poll", 99, testOptionO1, ErrPollClosedOrNotFound, "PollClosedOrNotFound"},
		{"closed poll", 2, 30, ErrPollClosedOrNotFound, "PollClosedOrNotFound"},
		{"foreign option", testPollID, 30, ErrOptionNotInPoll, "OptionNotInPoll"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CastVote(context.Background(), gofakeit.UUID(), tt.pollID, tt.optionID)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCode, ReasonCode(err))
		})
	}

	// No rejection left a ledger row behind.
	assert.Equal(t, 0, store.voteCount(testPollID))
	assert.Equal(t, 0, store.voteCount(2))
	assert.Equal(t, 0, store.voteCount(99))
}

func TestCastVote_RetriesTransientCommitFailures(t *testing.T) {
	service, store, _ := newTestService(t)
	store.saveFailures = 2 // two transient failures, third attempt succeeds

	vote, err := service.CastVote(context.Background(), gofakeit.UUID(), testPollID, testOptionO1)
	require.NoError(t, err)
	assert.Equal(t, testPollID, vote.PollID)
	assert.Equal(t, 1, store.voteCount(testPollID))
}

func TestCastVote_RetryExhaustionIsTemporarilyUnavailable(t *testing.T) {
	service, store, _ := newTestService(t)
	store.saveFailures = 10

	_, err := service.CastVote(context.Background(), gofakeit.UUID(), testPollID, testOptionO1)
	require.ErrorIs(t, err, ErrTemporarilyUnavailable)
	assert.Equal(t, "TemporarilyUnavailable", ReasonCode(err))
	assert.Equal(t, 0, store.voteCount(testPollID))
}

func TestGetTally_DegradesToStaleSnapshot(t *testing.T) {
	service, store, _ := newTestService(t)

	_, err := service.CastVote(context.Background(), gofakeit.UUID(), testPollID, testOptionO1)
	require.NoError(t, err)

	store.mu.Lock()
	store.countFail = true
	store.mu.Unlock()

	_, err = service.ForceRecount(context.Background(), testPollID)
	require.ErrorIs(t, err, ErrTemporarilyUnavailable)

	tally, err := service.GetTally(context.Background(), testPollID)
	require.NoError(t, err)
	assert.True(t, tally.Stale)
	assert.Equal(t, int64(1), tally.Total)

	store.mu.Lock()
	store.countFail = false
	store.mu.Unlock()

	fresh, err := service.ForceRecount(context.Background(), testPollID)
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
}

func TestResolveWard_Mapping(t *testing.T) {
	service, _, _ := newTestService(t)

	ward, err := service.ResolveWard(18.52, 73.83)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ward.ID)

	_, err = service.ResolveWard(95, 73.83)
	require.ErrorIs(t, err, ErrInvalidCoordinate)
	assert.Equal(t, "InvalidCoordinate", ReasonCode(err))

	_, err = service.ResolveWard(10, 10)
	require.ErrorIs(t, err, ErrWardNotFound)
	assert.Equal(t, "WardNotFound", ReasonCode(err))
}

func TestSubscribeTally_LateSubscriberSeesCommittedVotes(t *testing.T) {
	service, _, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := service.CastVote(context.Background(), gofakeit.UUID(), testPollID, testOptionO1)
		require.NoError(t, err)
	}

	// The subscriber received no events for the earlier votes, but the
	// snapshot handed over on subscribe already accounts for them.
	sub, tally, err := service.SubscribeTally(context.Background(), testPollID)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, int64(3), tally.Total)

	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected replayed event: %+v", event)
	default:
	}
}

func TestSubscribeTally_UnknownPoll(t *testing.T) {
	service, _, hub := newTestService(t)

	_, _, err := service.SubscribeTally(context.Background(), 404)
	require.ErrorIs(t, err, ErrPollClosedOrNotFound)
	assert.Equal(t, 0, hub.SubscriberCount(404))
}

// The end-to-end scenario: U1 votes O1, duplicate attempts by U1 are
// rejected whatever the interleaving, U2 votes O2, and a subscriber
// connected before U2's vote converges to {O1:1, O2:1}.
func TestVotingScenario_Convergence(t *testing.T) {
	service, store, _ := newTestService(t)
	u1, u2 := gofakeit.UUID(), gofakeit.UUID()

	_, err := service.CastVote(context.Background(), u1, testPollID, testOptionO1)
	require.NoError(t, err)

	tally, err := service.GetTally(context.Background(), testPollID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{testOptionO1: 1, testOptionO2: 0}, tally.Counts)

	// U1 tries O2 concurrently with a retry of the original request.
	var wg sync.WaitGroup
	dupErrs := make(chan error, 2)
	for _, optionID := range []int64{testOptionO2, testOptionO1} {
		wg.Add(1)
		go func(optionID int64) {
			defer wg.Done()
			_, err := service.CastVote(context.Background(), u1, testPollID, optionID)
			dupErrs <- err
		}(optionID)
	}
	wg.Wait()
	close(dupErrs)
	for err := range dupErrs {
		require.ErrorIs(t, err, ErrAlreadyVoted)
	}
	assert.Equal(t, 1, store.voteCount(testPollID))

	sub, _, err := service.SubscribeTally(context.Background(), testPollID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = service.CastVote(context.Background(), u2, testPollID, testOptionO2)
	require.NoError(t, err)

	select {
	case event := <-sub.Events():
		assert.Equal(t, testPollID, event.PollID)
	case <-time.After(time.Second):
		t.Fatal("subscriber should have been notified of U2's vote")
	}

	final, err := service.GetTally(context.Background(), testPollID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{testOptionO1: 1, testOptionO2: 1}, final.Counts)
	assert.Equal(t, int64(2), final.Total)
}
