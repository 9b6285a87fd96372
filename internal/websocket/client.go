package websocket

import (
	"time"

	"github.com/dij0s/eXPOSE/internal/config"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// sendQueue is how many frames a client may lag behind before it is dropped
const sendQueue = 256

// Client is one dashboard browser attached to the hub
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	pongWait   time.Duration
	pingPeriod time.Duration
	writeWait  time.Duration
	readLimit  int64

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection. Timeouts come from cfg.
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendQueue),
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PingPeriod,
		writeWait:  cfg.WriteWait,
		readLimit:  cfg.MaxMessageSize,
		logger:     logger.With().Str("client_id", id).Logger(),
	}
}

// ID returns the client's identifier
func (c *Client) ID() string { return c.id }

// Start runs the pumps; the client unregisters itself when the read side ends
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump is the only reader of conn. Inbound frames are dashboard commands
// handed to the hub's OnMessage callback.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	}
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				metrics.Get().RecordWebSocketError()
				c.logger.Warn().Err(err).Msg("dashboard client read failed")
			}
			return
		}
		c.hub.receive(c.id, frame)
	}
}

// writePump is the only writer of conn. One queued frame is one websocket
// message; browsers parse each as a standalone JSON document.
func (c *Client) writePump() {
	ping := time.NewTicker(c.pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, open := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				metrics.Get().RecordWebSocketError()
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
