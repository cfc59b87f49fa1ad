package notify

import (
	"log/slog"
	"sync"
)

// Event tells a subscriber that the tally for a poll changed and should be
// re-fetched. It deliberately carries no counts: handlers re-pull the
// current tally, which makes duplicate or coalesced deliveries harmless.
type Event struct {
	PollID int64  `json:"poll_id"`
	Reason string `json:"reason"`
}

const ReasonVoteCommitted = "vote_committed"

// Subscription is a live handle on one poll's change feed. Close releases
// the registry slot and the event channel; closing twice is safe.
type Subscription struct {
	hub    *Hub
	pollID int64
	events chan Event
	once   sync.Once
}

// Events yields tally-changed notifications. The channel is closed when the
// subscription is closed. Events are coalesced: a pending undelivered event
// absorbs newer ones, since both mean "re-fetch the tally now".
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) PollID() int64 {
	return s.pollID
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.events)
	})
}

// Hub is the subscription registry: poll id -> set of live subscriptions.
// Publish never blocks, so a slow or dead subscriber cannot delay the vote
// commit path or starve other subscribers.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[int64]map[*Subscription]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[int64]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription for the poll. There is no replay:
// subscribers must fetch the current tally themselves right after
// subscribing, otherwise votes committed before this call are silently
// missed.
func (h *Hub) Subscribe(pollID int64) *Subscription {
	sub := &Subscription{
		hub:    h,
		pollID: pollID,
		// Buffer of one: an undelivered event already covers any newer one.
		events: make(chan Event, 1),
	}

	h.mu.Lock()
	if h.rooms[pollID] == nil {
		h.rooms[pollID] = make(map[*Subscription]struct{})
	}
	h.rooms[pollID][sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("subscriber joined", slog.Int64("pollID", pollID))
	return sub
}

// Publish fans the event out to every live subscriber of event.PollID.
// Delivery is at-least-once per live subscriber: either the event lands in
// the buffer, or the buffer already holds an equivalent pending event.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.rooms[event.PollID] {
		select {
		case sub.events <- event:
		default:
			// Subscriber has an event pending; it will re-fetch anyway.
		}
	}
}

// SubscriberCount reports the number of live subscriptions for a poll.
func (h *Hub) SubscriberCount(pollID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[pollID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sub.pollID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.pollID)
	}
	h.log.Debug("subscriber left", slog.Int64("pollID", sub.pollID))
}
