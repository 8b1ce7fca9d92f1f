package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/metrics"
)

// Subscriber is a single client's subscription to one job's room. The
// zero value is not usable; obtain one via Hub.Subscribe.
type Subscriber struct {
	jobID uuid.UUID
	ch    chan Event
}

// Events returns the subscriber's inbound channel. The caller must
// keep draining it (e.g. forwarding to a WebSocket connection);
// falling behind for long enough to fill the buffer gets the
// subscriber dropped by the next Publish, per spec §4.12.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Publisher is the narrow capability internal/orchestrator needs: fire
// an event into a job's room without knowing anything about who, if
// anyone, is subscribed.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Hub is the room map: job id -> subscriber set, guarded by a
// sync.RWMutex since broadcasting (read) happens far more often than
// subscribing/unsubscribing (write), per §9's explicit redesign note.
//
// Hub never blocks a publisher on a slow subscriber: Publish uses a
// non-blocking send per subscriber and drops (unsubscribes) anyone
// whose buffer is full.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]map[*Subscriber]struct{}
	bufferSize int
	log        *slog.Logger
}

// New creates a Hub whose per-subscriber channels have the given
// buffer capacity.
func New(bufferSize int, log *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Subscriber]struct{}),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Subscribe joins jobID's room and returns the new Subscriber. The
// caller must eventually call Unsubscribe, typically when its
// connection closes.
func (h *Hub) Subscribe(jobID uuid.UUID) *Subscriber {
	sub := &Subscriber{jobID: jobID, ch: make(chan Event, h.bufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[jobID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[jobID] = room
	}
	room[sub] = struct{}{}
	metrics.FanoutSubscribers.Inc()
	return sub
}

// Unsubscribe removes sub from its room, closing its channel. It is
// safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	room, ok := h.rooms[sub.jobID]
	if !ok {
		return
	}
	if _, present := room[sub]; !present {
		return
	}
	delete(room, sub)
	close(sub.ch)
	metrics.FanoutSubscribers.Dec()
	if len(room) == 0 {
		delete(h.rooms, sub.jobID)
	}
}

// Publish broadcasts ev to every current subscriber of ev.JobID, in
// publish order per subscriber. A subscriber whose buffer is already
// full is dropped rather than waited on.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.mu.RLock()
	room := h.rooms[ev.JobID]
	var stuck []*Subscriber
	for sub := range room {
		select {
		case sub.ch <- ev:
		default:
			stuck = append(stuck, sub)
		}
	}
	h.mu.RUnlock()

	if len(stuck) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range stuck {
		h.log.Warn("fanout: dropping slow subscriber", "job_id", ev.JobID)
		h.removeLocked(sub)
	}
	h.mu.Unlock()
}

// RoomSize reports how many subscribers are currently in jobID's room;
// used by tests and diagnostics only.
func (h *Hub) RoomSize(jobID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[jobID])
}
