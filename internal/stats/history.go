package stats

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity covers one hour at one blink per second.
const DefaultHistoryCapacity = 3600

// History is a bounded FIFO of timestamps. When full, the oldest entry is
// evicted. Timestamps earlier than the newest entry are clamped to it so the
// sequence stays non-decreasing.
//
// History is safe for concurrent use.
type History struct {
	mu   sync.RWMutex
	buf  []time.Time
	head int // index of the oldest entry
	n    int
}

// NewHistory returns a History holding at most capacity timestamps.
// A non-positive capacity means DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]time.Time, capacity)}
}

// Add appends ts, evicting the oldest entry when full.
func (h *History) Add(ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n > 0 {
		if newest := h.at(h.n - 1); ts.Before(newest) {
			ts = newest
		}
	}
	if h.n < len(h.buf) {
		h.buf[(h.head+h.n)%len(h.buf)] = ts
		h.n++
		return
	}
	h.buf[h.head] = ts
	h.head = (h.head + 1) % len(h.buf)
}

// CountAfter returns the number of entries strictly after cutoff.
func (h *History) CountAfter(cutoff time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var c int
	for i := 0; i < h.n; i++ {
		if h.at(i).After(cutoff) {
			c++
		}
	}
	return c
}

// CountSince returns the number of entries at or after start.
func (h *History) CountSince(start time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var c int
	for i := 0; i < h.n; i++ {
		if !h.at(i).Before(start) {
			c++
		}
	}
	return c
}

// at returns the i-th retained entry, oldest first. h.mu must be held.
func (h *History) at(i int) time.Time {
	return h.buf[(h.head+i)%len(h.buf)]
}

// Clear removes all entries.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head, h.n = 0, 0
}
