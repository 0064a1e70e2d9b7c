package live

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/inkwell/internal/identity"
	"github.com/ashureev/inkwell/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Handler upgrades requests to WebSocket and streams phase events.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

type wsMessage struct {
	Type string `json:"type"`
}

// phaseMessage is the wire form of a session.Event.
type phaseMessage struct {
	Type string `json:"type"`
	session.Event
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.hub.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.hub.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	c := h.hub.register(userID, tabID)
	defer h.hub.unregister(userID, tabID, c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, userID, pongs)
	}()

	h.writeLoop(ctx, ws, c, pongs)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.hub.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop consumes client messages; only pings are understood.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string, pongs chan<- struct{}) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.hub.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.hub.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writeLoop is the only writer on ws.
func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, c *client, pongs <-chan struct{}) {
	for {
		var payload any
		select {
		case <-ctx.Done():
			return
		case <-pongs:
			payload = map[string]string{"type": "pong"}
		case ev, ok := <-c.send:
			if !ok {
				// Replaced by a newer connection for the same tab.
				return
			}
			payload = phaseMessage{Type: "phase", Event: ev}
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, ws, payload)
		cancel()
		if err != nil {
			h.hub.logger.Debug("WebSocket write error", "error", err)
			return
		}
	}
}
