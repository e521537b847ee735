// Package notifications delivers asynchronous notices, such as expired
// confirmations, to websocket subscribers of the chat host.
package notifications

import (
	"context"
	"errors"
	"sync"

	"dailypair/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per subscriber
	maxConnsPerSubscriber = 8
	// Max total connections
	maxTotalConns = 1000
)

// ErrHubClosed is returned by Register after Shutdown.
var ErrHubClosed = errors.New("notice hub is shut down")

// Hub maps subscriber subject -> connected clients.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
	wsLog      *observability.WSLogger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	h := &Hub{conns: make(map[string]map[*Client]struct{})}
	h.wsLog = observability.NewWSLogger(h.Name())
	return h
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "notice hub" }

// Register adds a connection for subscriber, optionally filtered to one session.
func (h *Hub) Register(subscriber, session string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[subscriber]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[subscriber] = m
	}
	if len(m) >= maxConnsPerSubscriber {
		return nil, errors.New("subscriber connection limit reached")
	}

	client := NewClient(h, conn, subscriber, session)
	m[client] = struct{}{}
	h.totalConns++
	observability.NoticeSubscribers.Inc()
	h.wsLog.LogConnect(context.Background(), subscriber)
	return client, nil
}

// UnregisterClient removes client and closes its send channel.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.Subscriber]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	if len(m) == 0 {
		delete(h.conns, client.Subscriber)
	}
	h.totalConns--
	observability.NoticeSubscribers.Dec()
	close(client.Send)
}

// Deliver queues data for every client interested in session and returns how
// many accepted it.
func (h *Hub) Deliver(session string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, clients := range h.conns {
		for c := range clients {
			if c.wants(session) && c.TrySend(data) {
				delivered++
			}
		}
	}
	return delivered
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// Shutdown ends every client's write pump and refuses new connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for subscriber, clients := range h.conns {
		for client := range clients {
			// WritePump sends the close frame once Send is closed.
			close(client.Send)
			observability.NoticeSubscribers.Dec()
			h.wsLog.LogDisconnect(ctx, subscriber, "server shutting down")
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
