package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Write timeout
	defaultWriteTimeout = 10 * time.Second

	// Handshake timeout
	defaultHandshakeTimeout = 10 * time.Second
)

// WebSocketDialer dials ws://host[:port]/ws
type WebSocketDialer struct {
	URL          string
	WriteTimeout time.Duration
	dialer       *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for the given ws:// or wss:// URL
func NewWebSocketDialer(url string, writeTimeout time.Duration) *WebSocketDialer {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocketDialer{
		URL:          url,
		WriteTimeout: writeTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// Endpoint returns the dialed URL
func (d *WebSocketDialer) Endpoint() string { return d.URL }

// Dial establishes the WebSocket connection
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// wsConn adapts *websocket.Conn. gorilla allows one concurrent reader and one
// concurrent writer, so writes are serialized here.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, message, err := c.conn.ReadMessage()
	return message, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
