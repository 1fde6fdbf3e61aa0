// Package webchat serves the browser chat over WebSocket.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
)

// ErrNoConnection is returned when the user has no open chat tab.
var ErrNoConnection = errors.New("no open web chat connection")

// Hub tracks open WebSocket connections per device identity. A device may
// have several tabs open; replies fan out to all of them.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
	logger *slog.Logger
}

var _ transport.Sender = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Register adds conn for userID.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[userID]; !ok {
		h.active[userID] = make(map[*websocket.Conn]struct{})
	}
	h.active[userID][conn] = struct{}{}
	h.logger.Info("Web chat connection registered", "user_id", userID, "tabs", len(h.active[userID]))
}

// Unregister removes conn for userID.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[userID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.active, userID)
	}
	h.logger.Info("Web chat connection unregistered", "user_id", userID)
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

func (h *Hub) snapshot(userID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for c := range h.active[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Send implements transport.Sender. to is a "web:<device id>" address.
func (h *Hub) Send(ctx context.Context, to, text string) error {
	channel, userID, ok := transport.SplitAddress(to)
	if !ok || channel != transport.ChannelWeb {
		return fmt.Errorf("%w: %q", transport.ErrUnknownChannel, to)
	}

	conns := h.snapshot(userID)
	if len(conns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoConnection, userID)
	}

	data, err := json.Marshal(serverFrame{Type: frameReply, Text: text})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	var errs []error
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			errs = append(errs, err)
		}
	}
	// One live tab is enough.
	if len(errs) == len(conns) {
		return fmt.Errorf("write reply: %w", errors.Join(errs...))
	}
	return nil
}

// CloseAll closes every open connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.active {
		for c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, userID)
	}
}
