// Package notify collects short-lived, human-readable notices (toasts) raised
// by the capture pipeline and fans them out to subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 2600 * time.Millisecond

// Toast is one transient notice.
type Toast struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Center stores live toasts and broadcasts new ones.
type Center struct {
	clock     clock.Clock
	ttl       time.Duration
	mu        sync.RWMutex
	toasts    []Toast
	listeners []chan Toast
}

// NewCenter creates a notification center. A nil clock uses the wall clock.
func NewCenter(clk clock.Clock, ttl time.Duration) *Center {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		clock:     clk,
		ttl:       ttl,
		listeners: make([]chan Toast, 0),
	}
}

// Push raises a toast. Text identical to a toast that is still visible is
// dropped; the returned bool reports whether a new toast was created.
func (c *Center) Push(text string) (Toast, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	c.pruneLocked(now)
	for _, t := range c.toasts {
		if t.Text == text {
			c.mu.Unlock()
			return t, false
		}
	}
	toast := Toast{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.toasts = append(c.toasts, toast)
	c.mu.Unlock()

	logger.WithComponent("notify").Info().Str("id", toast.ID).Msg(text)
	c.notifyListeners(toast)
	return toast, true
}

// Active returns the toasts that have not expired, oldest first.
func (c *Center) Active() []Toast {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}

func (c *Center) pruneLocked(now time.Time) {
	kept := c.toasts[:0]
	for _, t := range c.toasts {
		if now.Before(t.ExpiresAt) {
			kept = append(kept, t)
		}
	}
	c.toasts = kept
}

// Subscribe adds a listener for new toasts
func (c *Center) Subscribe() chan Toast {
	ch := make(chan Toast, 10)
	c.mu.Lock()
	c.listeners = append(c.listeners, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (c *Center) Unsubscribe(ch chan Toast) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, listener := range c.listeners {
		if listener == ch {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (c *Center) notifyListeners(t Toast) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, listener := range c.listeners {
		select {
		case listener <- t:
		default:
			// Skip slow listeners
		}
	}
}
