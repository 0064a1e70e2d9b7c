// Package live pushes session phase events to connected browsers over
// WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/ashureev/inkwell/internal/session"
)

// sendBuffer is the number of events queued per connection before new
// events for that connection are dropped.
const sendBuffer = 16

type client struct {
	send chan session.Event
	once sync.Once
}

func newClient() *client {
	return &client{send: make(chan session.Event, sendBuffer)}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks live connections per user and tab and fans phase events out
// to every tab of the session's owner.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*client
	logger *slog.Logger
}

var _ session.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*client),
		logger: logger.With("component", "live"),
	}
}

// register adds a connection for a user/tab, replacing any previous one.
func (h *Hub) register(userID, tabID string) *client {
	c := newClient()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*client)
	}
	if existing, exists := h.active[userID][tabID]; exists {
		existing.close()
	}
	h.active[userID][tabID] = c
	h.logger.Info("Live connection registered", "user_id", userID, "tab_id", tabID)
	return c
}

// unregister removes c if it is still the current connection for the tab.
func (h *Hub) unregister(userID, tabID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := tabs[tabID]; exists && current == c {
		current.close()
		delete(tabs, tabID)
		if len(tabs) == 0 {
			delete(h.active, userID)
		}
		h.logger.Info("Live connection unregistered", "user_id", userID, "tab_id", tabID)
	}
}

// Notify implements session.Notifier. It never blocks; a tab that is not
// draining its queue misses events.
func (h *Hub) Notify(ev session.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for tabID, c := range h.active[ev.UserID] {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("Dropping live event for slow connection",
				"user_id", ev.UserID, "tab_id", tabID, "session_id", ev.SessionID)
		}
	}
}

// Connections returns the number of open tabs for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}
