package session

import (
	"sync"
	"time"

	"github.com/xaenox/triagebot/internal/models"
)

// Entry is one remembered exchange line for a contact.
type Entry struct {
	Sender  models.Sender
	Content string
	At      time.Time
}

// History keeps a fixed-capacity ring of recent exchanges per contact.
// Buffers that go idle are evicted by SweepIdle, so memory stays
// bounded regardless of how many contacts pass through.
type History struct {
	mu       sync.Mutex
	capacity int
	rings    map[int64]*ring
}

type ring struct {
	entries  []Entry
	next     int
	full     bool
	lastUsed time.Time
}

const DefaultHistorySize = 20

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		rings:    make(map[int64]*ring),
	}
}

func (h *History) Append(contactID int64, entry Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[contactID]
	if !ok {
		r = &ring{entries: make([]Entry, h.capacity)}
		h.rings[contactID] = r
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % h.capacity
	if r.next == 0 {
		r.full = true
	}
	r.lastUsed = time.Now()
}

// Recent returns the buffered entries for a contact, oldest first.
func (h *History) Recent(contactID int64) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[contactID]
	if !ok {
		return nil
	}
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, h.capacity)
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// SweepIdle drops buffers untouched for longer than maxAge and returns
// how many were evicted.
func (h *History) SweepIdle(maxAge time.Duration, now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	evicted := 0
	for id, r := range h.rings {
		if now.Sub(r.lastUsed) > maxAge {
			delete(h.rings, id)
			evicted++
		}
	}
	return evicted
}
