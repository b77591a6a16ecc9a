// Package notifier fans seat events out to every session watching a
// showtime. Delivery is best-effort per subscriber: a slow consumer is
// dropped rather than allowed to stall the publisher or its peers.
package notifier

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cinexhq/seathold/internal/domain"
)

const DefaultQueueDepth = 64

// Hub routes seat events to per-showtime topics. Each topic carries the
// subscriber set and a derived cache of currently held seats, maintained
// from the event stream itself. Because the snapshot is taken and the
// subscriber registered under the same topic lock that delivery runs under,
// a new subscriber can never miss an event published after its snapshot.
type Hub struct {
	mu     sync.Mutex
	topics map[int]*topic

	queueDepth int
	logger     *slog.Logger
}

type topic struct {
	mu          sync.Mutex
	subscribers map[string]*Subscription
	held        map[int]domain.HoldRecord

	// Set under mu when the topic is garbage-collected. A caller that locked
	// a dropped topic must retry; registering on one would leave a subscriber
	// no publish can ever reach.
	dropped bool
}

// Subscription is one session's view of a showtime: the holds that existed
// at subscription time plus the live event stream. The stream channel is
// closed when the session unsubscribes or is dropped for slow consumption;
// a dropped session must re-subscribe to get a fresh snapshot.
type Subscription struct {
	ShowtimeID int
	SessionID  string
	Snapshot   []domain.HoldRecord

	events chan domain.SeatEvent
}

func (s *Subscription) Events() <-chan domain.SeatEvent {
	return s.events
}

func NewHub(queueDepth int, logger *slog.Logger) *Hub {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	return &Hub{
		topics:     make(map[int]*topic),
		queueDepth: queueDepth,
		logger:     logger,
	}
}

func (h *Hub) topicFor(showtimeID int, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[showtimeID]
	if !ok && create {
		t = &topic{
			subscribers: make(map[string]*Subscription),
			held:        make(map[int]domain.HoldRecord),
		}
		h.topics[showtimeID] = t
	}

	return t
}

// lockTopic returns the showtime's topic with its mutex held, or nil when it
// does not exist and create is false. Topics can be garbage-collected between
// the registry lookup and the lock, so the lookup repeats until it locks a
// live one. A dropped topic was empty, so without create there is nothing to
// return.
func (h *Hub) lockTopic(showtimeID int, create bool) *topic {
	for {
		t := h.topicFor(showtimeID, create)
		if t == nil {
			return nil
		}

		t.mu.Lock()
		if !t.dropped {
			return t
		}
		t.mu.Unlock()

		if !create {
			return nil
		}
	}
}

// Subscribe registers a session on a showtime and returns its snapshot and
// event stream. Subscribing again with the same session id replaces the
// previous stream.
func (h *Hub) Subscribe(showtimeID int, sessionID string) *Subscription {
	t := h.lockTopic(showtimeID, true)
	defer t.mu.Unlock()

	if prev, ok := t.subscribers[sessionID]; ok {
		delete(t.subscribers, sessionID)
		close(prev.events)
	}

	snapshot := make([]domain.HoldRecord, 0, len(t.held))
	for _, record := range t.held {
		snapshot = append(snapshot, record)
	}
	sortSnapshot(snapshot)

	sub := &Subscription{
		ShowtimeID: showtimeID,
		SessionID:  sessionID,
		Snapshot:   snapshot,
		events:     make(chan domain.SeatEvent, h.queueDepth),
	}
	t.subscribers[sessionID] = sub

	return sub
}

// Drop removes exactly the given subscription. Unlike Unsubscribe it will
// not touch a replacement subscription that reused the same session id, so
// it is safe to defer from a streaming handler.
func (h *Hub) Drop(sub *Subscription) {
	t := h.lockTopic(sub.ShowtimeID, false)
	if t == nil {
		return
	}

	if current, ok := t.subscribers[sub.SessionID]; ok && current == sub {
		delete(t.subscribers, sub.SessionID)
		close(sub.events)
	}
	t.mu.Unlock()

	h.maybeDropTopic(sub.ShowtimeID)
}

// Unsubscribe removes a session. Safe to call repeatedly or for sessions
// that were never subscribed.
func (h *Hub) Unsubscribe(showtimeID int, sessionID string) {
	t := h.lockTopic(showtimeID, false)
	if t == nil {
		return
	}

	if sub, ok := t.subscribers[sessionID]; ok {
		delete(t.subscribers, sessionID)
		close(sub.events)
	}
	t.mu.Unlock()

	h.maybeDropTopic(showtimeID)
}

// Publish delivers an event to every subscriber of its showtime and updates
// the topic's held-seat cache. Enqueueing never blocks: a subscriber whose
// queue is full is dropped and its channel closed.
func (h *Hub) Publish(event domain.SeatEvent) {
	// Held events create the topic so the cache tracks holds even before the
	// first subscriber arrives; released events for unknown topics carry no
	// state worth keeping.
	t := h.lockTopic(event.ShowtimeID, event.Kind == domain.EventHeld)
	if t == nil {
		return
	}

	switch event.Kind {
	case domain.EventHeld:
		t.held[event.SeatID] = domain.HoldRecord{
			ShowtimeID: event.ShowtimeID,
			SeatID:     event.SeatID,
			HolderID:   event.HolderID,
			ExpiresAt:  event.ExpiresAt,
		}
	case domain.EventReleased:
		delete(t.held, event.SeatID)
	}

	var dropped []string
	for sessionID, sub := range t.subscribers {
		select {
		case sub.events <- event:
		default:
			dropped = append(dropped, sessionID)
		}
	}

	for _, sessionID := range dropped {
		sub := t.subscribers[sessionID]
		delete(t.subscribers, sessionID)
		close(sub.events)
	}

	t.mu.Unlock()

	for _, sessionID := range dropped {
		h.logger.Warn("subscriber dropped due to full event queue",
			"showtime_id", event.ShowtimeID, "session_id", sessionID)
	}

	if event.Kind == domain.EventReleased {
		h.maybeDropTopic(event.ShowtimeID)
	}
}

// Prime seeds topic caches from existing hold records, used after the ledger
// restores persisted state at startup. No events are delivered.
func (h *Hub) Prime(records []domain.HoldRecord) {
	for _, record := range records {
		t := h.lockTopic(record.ShowtimeID, true)
		t.held[record.SeatID] = record
		t.mu.Unlock()
	}
}

// maybeDropTopic garbage-collects a topic once nobody subscribes to it and
// no seats are held.
func (h *Hub) maybeDropTopic(showtimeID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[showtimeID]
	if !ok {
		return
	}

	t.mu.Lock()
	if len(t.subscribers) == 0 && len(t.held) == 0 {
		t.dropped = true
		delete(h.topics, showtimeID)
	}
	t.mu.Unlock()
}

func sortSnapshot(records []domain.HoldRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].SeatID < records[j].SeatID
	})
}
