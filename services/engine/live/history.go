// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package live

import "sync"

// History is a fixed-capacity ring of the most recent updates. It backs the
// HTTP results endpoints so a client joining mid-run can see recent chunks
// without subscribing to the stream.
type History struct {
	mu   sync.RWMutex
	ring []Update
	next int
	full bool
}

// NewHistory returns a ring holding at most capacity updates.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{ring: make([]Update, capacity)}
}

// Add records an update, evicting the oldest when full.
func (h *History) Add(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = u
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
}

// Len reports how many updates are held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.ring)
	}
	return h.next
}

// Latest returns the most recent update, or false if none recorded yet.
func (h *History) Latest() (Update, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.next == 0 && !h.full {
		return Update{}, false
	}
	idx := (h.next - 1 + len(h.ring)) % len(h.ring)
	return h.ring[idx], true
}

// Recent returns up to n updates, oldest first.
func (h *History) Recent(n int) []Update {
	h.mu.RLock()
	defer h.mu.RUnlock()

	held := h.next
	if h.full {
		held = len(h.ring)
	}
	if n > held {
		n = held
	}
	out := make([]Update, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}
