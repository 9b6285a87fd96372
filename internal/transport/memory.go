package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryDialer hands out in-process connections. Tests push frames with
// Deliver and drop the connection with Drop; Fail makes the next dials fail.
type MemoryDialer struct {
	mu       sync.Mutex
	conns    []*MemoryConn
	failures int
	dials    int
}

// NewMemoryDialer creates an empty MemoryDialer
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{}
}

// Endpoint implements Dialer
func (d *MemoryDialer) Endpoint() string { return "memory://" }

// Dial implements Dialer
func (d *MemoryDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("memory: dial refused")
	}
	c := &MemoryConn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	d.conns = append(d.conns, c)
	return c, nil
}

// Fail makes the next n dials return an error
func (d *MemoryDialer) Fail(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

// Dials returns how many times Dial was called
func (d *MemoryDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently dialed connection
func (d *MemoryDialer) Last() *MemoryConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// MemoryConn is the Conn produced by MemoryDialer
type MemoryConn struct {
	inbound chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
	done    chan struct{}
}

// Deliver queues an inbound frame
func (c *MemoryConn) Deliver(frame string) {
	c.inbound <- []byte(frame)
}

// Drop ends the connection as if the remote closed it
func (c *MemoryConn) Drop() {
	_ = c.Close()
}

// Written returns copies of the frames sent through WriteMessage
func (c *MemoryConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// Closed reports whether Close was called
func (c *MemoryConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MemoryConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *MemoryConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *MemoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
