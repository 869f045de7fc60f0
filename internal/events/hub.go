// Package events is an in-process feed of task lifecycle transitions, used
// by the SSE endpoint and the watch TUI. It is advisory: the ledger remains
// the source of truth, the hub only accelerates notification.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types.
const (
	TaskAdmitted  = "task.admitted"
	TaskBlocked   = "task.blocked"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskReclaimed = "task.reclaimed"
)

// Event is one lifecycle transition.
type Event struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	TaskID  string    `json:"task_id,omitempty"`
	Project string    `json:"project,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Hub is an in-memory pub/sub with a small ring buffer so late subscribers
// can catch up on recent transitions.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish broadcasts a transition. Slow subscribers are skipped rather than
// blocking the publisher.
func (h *Hub) Publish(eventType, taskID, project, detail string) {
	ev := Event{
		ID:      h.nextID.Add(1),
		Type:    eventType,
		At:      time.Now().UTC(),
		TaskID:  taskID,
		Project: project,
		Detail:  detail,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel of future events plus a cancel func. The
// channel is buffered; a subscriber that stops draining loses events, not
// correctness.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first. A
// lastID of 0 returns the whole buffer.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
