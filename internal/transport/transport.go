// Package transport hides how frames reach the dashboard. The connection
// manager only sees a Dialer producing message-oriented Conns, so the same
// reconnect policy drives a websocket, an MQTT subscription or an in-memory
// pipe in tests.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Conn operations after Close
var ErrClosed = errors.New("transport: connection closed")

// Conn is one established, message-oriented connection
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the connection ends.
	// A graceful close is reported as an error too.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a new Conn
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	// Endpoint describes the remote end for logs
	Endpoint() string
}
