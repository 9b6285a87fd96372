package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/transport"
	"github.com/rs/zerolog"
)

// State of the streaming connection
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrRetriesExhausted is the permanent error surfaced once the manager gives up
var ErrRetriesExhausted = errors.New("connection failed after maximum retry attempts")

// Status is a snapshot of the manager's state machine
type Status struct {
	State     State         `json:"state"`
	Attempt   int           `json:"attempt"`
	Delay     time.Duration `json:"-"`
	LastError string        `json:"lastError,omitempty"`
}

// MarshalJSON reports the pending backoff delay in milliseconds
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	return json.Marshal(struct {
		plain
		DelayMs int64 `json:"delayMs"`
	}{plain(s), s.Delay.Milliseconds()})
}

// FrameHandler consumes raw inbound frames. It runs on the read goroutine,
// one frame at a time, in arrival order.
type FrameHandler func(frame []byte)

// Options tunes the reconnect policy
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       clock.Clock
	// OnStatus is invoked once per state transition, outside the lock and in
	// transition order. It must not call Close.
	OnStatus func(Status)
}

// Manager owns the single streaming connection: connect, detect failure,
// reconnect with backoff and give up.
type Manager struct {
	dialer  transport.Dialer
	handler FrameHandler
	opts    Options
	clock   clock.Clock
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	attempt  int
	delay    time.Duration
	lastErr  string
	conn     transport.Conn
	gen      uint64 // bumped per dial; stale close reports are ignored
	timer    *clock.Timer
	torndown bool
	send     chan []byte // outbound queue of the open connection

	// Transitions queue their status here; one caller at a time drains it
	pending    []Status
	notifying  bool
	notifyIdle *sync.Cond

	readers sync.WaitGroup
}

// sendBuffer is how many outbound frames may wait for the writer
const sendBuffer = 64

// NewManager creates a manager in the Closed state. Nothing is dialed until Connect.
func NewManager(dialer transport.Dialer, handler FrameHandler, opts Options, logger zerolog.Logger) *Manager {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = initialReconnectDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = maxReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:  dialer,
		handler: handler,
		opts:    opts,
		clock:   opts.Clock,
		logger:  logger.With().Str("component", "stream").Str("endpoint", dialer.Endpoint()).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateClosed,
	}
	m.notifyIdle = sync.NewCond(&m.mu)
	return m
}

// Connect starts a connection attempt. It is a no-op while Open or
// Connecting, after teardown, and once Failed. While Reconnecting the pending
// backoff timer is cancelled and replaced by an immediate attempt, so there
// is still only one attempt in flight.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.torndown || m.state == StateOpen || m.state == StateConnecting || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.dialLocked()
	m.mu.Unlock()

	m.flushStatus()
}

// Retry leaves Failed with a fresh retry budget and dials. In any other
// state it behaves like Connect.
func (m *Manager) Retry() {
	m.mu.Lock()
	if m.state == StateFailed && !m.torndown {
		m.state = StateClosed
		m.attempt = 0
		m.lastErr = ""
		m.logger.Info().Msg("manual retry after failure")
	}
	m.mu.Unlock()

	m.Connect()
}

// dialLocked moves to Connecting and dials in the background. Must hold m.mu.
func (m *Manager) dialLocked() {
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.delay = 0
	m.queueStatusLocked()

	m.readers.Add(1)
	go m.run(gen)
}

// run dials, then pumps frames until the connection ends
func (m *Manager) run(gen uint64) {
	defer m.readers.Done()

	conn, err := m.dialer.Dial(m.ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("dial failed")
		m.onClosed(gen, err)
		return
	}

	m.mu.Lock()
	if m.torndown || gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	send := make(chan []byte, sendBuffer)
	done := make(chan struct{})
	m.conn = conn
	m.send = send
	m.state = StateOpen
	m.attempt = 0
	m.lastErr = ""
	m.queueStatusLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("stream connected")
	m.flushStatus()

	go m.writeLoop(conn, send, done)
	defer close(done)

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			m.onClosed(gen, err)
			return
		}
		m.handler(frame)
	}
}

// writeLoop is the only writer of conn. A failed write closes conn, which
// ends the read loop and feeds the reconnect policy.
func (m *Manager) writeLoop(conn transport.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-send:
			if err := conn.WriteMessage(data); err != nil {
				m.logger.Debug().Err(err).Msg("write error")
				conn.Close()
				return
			}
		}
	}
}

// onClosed applies the reconnect policy to a dial failure or a dropped connection
func (m *Manager) onClosed(gen uint64, cause error) {
	m.mu.Lock()
	if m.torndown || gen != m.gen {
		// Detached: teardown or a newer attempt owns the state now
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.send = nil

	if m.attempt < m.opts.MaxAttempts {
		delay := Backoff(m.attempt, m.opts.BaseDelay, m.opts.MaxDelay)
		m.attempt++
		m.delay = delay
		m.state = StateReconnecting
		m.lastErr = fmt.Sprintf("connection closed, reconnecting in %g seconds", delay.Seconds())
		m.timer = m.clock.AfterFunc(delay, m.reconnect)

		m.logger.Warn().
			Err(cause).
			Int("attempt", m.attempt).
			Dur("retry_in", delay).
			Msg("stream closed, scheduling reconnect")
	} else {
		m.state = StateFailed
		m.delay = 0
		m.lastErr = ErrRetriesExhausted.Error()

		m.logger.Error().
			Err(cause).
			Int("attempts", m.attempt).
			Msg("stream failed, giving up")
	}
	m.queueStatusLocked()
	m.mu.Unlock()

	m.flushStatus()
}

// reconnect fires from the backoff timer
func (m *Manager) reconnect() {
	m.mu.Lock()
	m.timer = nil
	if m.torndown || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.dialLocked()
	m.mu.Unlock()

	m.flushStatus()
}

// Send marshals v and hands it to the connection's writer if Open. It never
// blocks or retries: false means the frame was dropped.
func (m *Manager) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal outbound message")
		return false
	}
	return m.SendRaw(data)
}

// SendRaw queues a pre-encoded frame if the connection is Open. A full
// queue drops the frame.
func (m *Manager) SendRaw(data []byte) bool {
	m.mu.Lock()
	send := m.send
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || send == nil {
		return false
	}
	select {
	case send <- data:
		return true
	default:
		m.logger.Warn().Msg("send buffer full, dropping frame")
		return false
	}
}

// Close tears the manager down: the pending reconnect is cancelled and the
// close handler detached before the connection is closed, so no reconnect
// follows. Close is terminal.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.torndown {
		m.mu.Unlock()
		return nil
	}
	m.torndown = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	conn := m.conn
	m.conn = nil
	m.send = nil
	m.state = StateClosed
	m.delay = 0
	m.queueStatusLocked()
	m.mu.Unlock()

	m.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.readers.Wait()

	m.logger.Info().Msg("stream closed")
	m.flushStatus()

	// Another goroutine may still be delivering; Closed is the last status
	m.mu.Lock()
	for m.notifying || len(m.pending) > 0 {
		m.notifyIdle.Wait()
	}
	m.mu.Unlock()
	return err
}

// Status returns the current state snapshot
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:     m.state,
		Attempt:   m.attempt,
		Delay:     m.delay,
		LastError: m.lastErr,
	}
}

// queueStatusLocked records the current status for delivery. Must hold m.mu.
func (m *Manager) queueStatusLocked() {
	if m.opts.OnStatus != nil {
		m.pending = append(m.pending, m.statusLocked())
	}
}

// flushStatus delivers queued statuses in order. If another goroutine is
// already delivering, it picks up what was queued here.
func (m *Manager) flushStatus() {
	m.mu.Lock()
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true
	for len(m.pending) > 0 {
		status := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.opts.OnStatus(status)
		m.mu.Lock()
	}
	m.notifying = false
	m.notifyIdle.Broadcast()
	m.mu.Unlock()
}
