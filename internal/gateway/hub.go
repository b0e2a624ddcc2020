// Package gateway streams finished analyses to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket clients and fans analysis payloads out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay   *ReplayBuffer
	upgrader websocket.Upgrader

	// Optional observers, set before the hub is used.
	OnClients func(n int) // called with the client count after each change
	OnDrop    func()      // called when a slow client misses a message
}

// NewHub creates a Hub that replays up to replaySize recent envelopes to
// newly connected clients.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run broadcasts every payload received from src until ctx is cancelled or
// src is closed. Payloads that are not valid JSON are dropped, since they are
// spliced verbatim into the envelope.
func (h *Hub) Run(ctx context.Context, src <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-src:
			if !ok {
				return
			}
			if !json.Valid(data) {
				slog.Warn("dropping non-JSON payload", "bytes", len(data))
				continue
			}
			h.Broadcast(data)
		}
	}
}

// ServeWS upgrades the request and registers the client. The optional
// since_seq query parameter limits the initial replay to newer envelopes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "since_seq must be an integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	// Replay under the lock so no live envelope can overtake the backlog.
	for _, e := range h.replay.Since(since) {
		select {
		case client.send <- e.Data:
		default:
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("ws client connected", "clients", count, "remote", r.RemoteAddr)
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("ws client disconnected", "clients", count)
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
