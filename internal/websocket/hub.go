package websocket

import (
	"context"
	"sync"

	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/rs/zerolog"
)

// Hub fans view frames out to every attached dashboard client. Membership
// changes and broadcasts are serialized through Run.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	welcome func() [][]byte
	inbound func(clientID string, message []byte)

	logger zerolog.Logger
}

// NewHub creates a Hub; call Run to start it
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// OnConnect sets the frames queued for each client as it registers
func (h *Hub) OnConnect(fn func() [][]byte) {
	h.mu.Lock()
	h.welcome = fn
	h.mu.Unlock()
}

// OnMessage sets the callback for frames sent by clients
func (h *Hub) OnMessage(fn func(clientID string, message []byte)) {
	h.mu.Lock()
	h.inbound = fn
	h.mu.Unlock()
}

// Run owns the client set until ctx ends, then closes every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case c := <-h.register:
			h.attach(c)
		case c := <-h.unregister:
			h.detach(c, "client disconnected")
		case frame := <-h.broadcast:
			h.fanOut(frame)
		}
	}
}

// Broadcast queues frame for every client. Once Run has returned the frame
// is discarded.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

// ClientCount returns the number of attached clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	if h.welcome != nil {
		// The client is not yet visible to fanOut, so welcome frames go first
		for _, frame := range h.welcome() {
			select {
			case c.send <- frame:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.Get().RecordWebSocketConnect()
	h.logger.Info().Str("client_id", c.id).Int("total_clients", n).Msg("client connected")
}

func (h *Hub) detach(c *Client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, reason)
}

func (h *Hub) removeLocked(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.Get().RecordWebSocketDisconnect()
	h.logger.Info().Str("client_id", c.id).Int("total_clients", len(h.clients)).Msg(reason)
}

// fanOut never blocks: a client whose queue is full is dropped
func (h *Hub) fanOut(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- frame:
			metrics.Get().RecordWebSocketMessage()
		default:
			h.removeLocked(c, "client too slow, dropped")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) receive(clientID string, message []byte) {
	h.mu.RLock()
	fn := h.inbound
	h.mu.RUnlock()
	if fn != nil {
		fn(clientID, message)
	}
}
