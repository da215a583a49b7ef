// Package history keeps a bounded, newest-first log of recognized labels.
package history

import (
	"strings"
	"sync"
)

// DefaultCapacity is the number of labels kept when none is configured.
const DefaultCapacity = 50

// Ignored labels are placeholders the recognizer emits when nothing was read.
var Ignored = map[string]struct{}{
	"No hand": {},
	"UNKNOWN": {},
	"NOTHING": {},
	"Error":   {},
}

// History is a newest-first label log capped at a fixed length.
type History struct {
	mu       sync.RWMutex
	capacity int
	entries  []string
	last     string
}

// New creates a History. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		capacity: capacity,
		entries:  make([]string, 0, capacity),
	}
}

// Push prepends a label, evicting the oldest entries beyond capacity.
func (h *History) Push(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushLocked(label)
}

func (h *History) pushLocked(label string) {
	if len(h.entries) < h.capacity {
		h.entries = append(h.entries, "")
	}
	copy(h.entries[1:], h.entries[:len(h.entries)-1])
	h.entries[0] = label
}

// Observe records the label from a fresh result. It is pushed only when it
// differs from the previously observed label and is not a placeholder.
// Returns true if the label was pushed.
func (h *History) Observe(label string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if label == h.last {
		return false
	}
	h.last = label
	if label == "" {
		return false
	}
	if _, skip := Ignored[label]; skip {
		return false
	}
	h.pushLocked(label)
	return true
}

// Entries returns a copy of the log, newest first.
func (h *History) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of stored labels.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Capacity returns the maximum number of stored labels.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear empties the log.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
	h.last = ""
}

// Separator joins entries for display.
const Separator = "  |  "

// Join renders entries on one line.
func Join(entries []string) string {
	return strings.Join(entries, Separator)
}
