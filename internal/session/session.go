// Package session wires the streaming engine for one dashboard run: the
// connection manager feeds the dispatcher, the dispatcher mutates the store,
// and the store drives the timeline, the timer display and the view frames.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/aggregator"
	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/dispatch"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/dij0s/eXPOSE/internal/store"
	"github.com/dij0s/eXPOSE/internal/stream"
	"github.com/dij0s/eXPOSE/internal/ticker"
	"github.com/dij0s/eXPOSE/internal/timeline"
	"github.com/dij0s/eXPOSE/internal/transport"
	"github.com/rs/zerolog"
)

// Options configures a Session
type Options struct {
	KnownAgents  []string
	MinWidth     int
	MaxAttempts  int // reconnects before giving up, stream.DefaultMaxAttempts when zero
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	TickInterval time.Duration
	Clock        clock.Clock

	// Broadcaster receives view frames. Frames are discarded when nil.
	Broadcaster aggregator.Broadcaster
}

// Session owns every engine component for the lifetime of one connection
type Session struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	timeline   *timeline.Reconstructor
	ticker     *ticker.Ticker
	aggregator *aggregator.Aggregator
	manager    *stream.Manager
	logger     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

type discard struct{}

func (discard) Broadcast([]byte) {}

func (discard) ClientCount() int { return 0 }

// New builds a session around dialer. Nothing connects until Start.
func New(dialer transport.Dialer, opts Options, logger zerolog.Logger) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = discard{}
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = stream.DefaultMaxAttempts
	}

	s := &Session{logger: logger.With().Str("component", "session").Logger()}
	s.store = store.New(opts.KnownAgents)

	// The reconstructor subscribes first so views read by later listeners
	// already include the change.
	s.timeline = timeline.NewReconstructor(s.store, opts.MinWidth, logger)
	s.dispatcher = dispatch.New(s.store, logger,
		dispatch.WithMetrics(metrics.Get()),
		dispatch.WithClock(opts.Clock),
	)
	s.aggregator = aggregator.NewAggregator(s.store, s.timeline, opts.Broadcaster, opts.Clock, logger)
	s.ticker = ticker.NewTicker(s.store, opts.Clock, opts.TickInterval, s.aggregator.Timers, logger)
	s.manager = stream.NewManager(dialer, s.dispatcher.Dispatch, stream.Options{
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   opts.BaseDelay,
		MaxDelay:    opts.MaxDelay,
		Clock:       opts.Clock,
		OnStatus:    s.onStatus,
	}, logger)
	return s
}

func (s *Session) onStatus(status stream.Status) {
	metrics.Get().RecordStreamState(status.State.String())
	s.aggregator.ConnectionChanged(status)

	if status.State == stream.StateFailed {
		s.logger.Error().Str("error", status.LastError).Msg("stream connection failed")
	}
}

// Start launches the background tasks and opens the connection
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ticker.Start(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.aggregator.Start(ctx)
	}()

	s.manager.Connect()
	s.logger.Info().Msg("session started")
}

// Reconnect asks for an immediate connection attempt, also after Failed
func (s *Session) Reconnect() {
	s.manager.Retry()
}

// Close tears the session down. The connection is detached before the
// background tasks stop, so shutdown never schedules a reconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	err := s.manager.Close()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.aggregator.Close()
	s.timeline.Close()
	s.logger.Info().Msg("session closed")
	return err
}

// Send writes an outbound frame. It never blocks and reports success.
func (s *Session) Send(v any) bool {
	return s.manager.Send(v)
}

// Select shows the image attached to a message
func (s *Session) Select(messageID string) error {
	if err := s.timeline.Select(messageID); err != nil {
		return err
	}
	s.aggregator.SelectionChanged()
	return nil
}

// ClickOutside clears the selected image
func (s *Session) ClickOutside() {
	s.timeline.ClickOutside()
	s.aggregator.SelectionChanged()
}

func (s *Session) Store() *store.Store                { return s.store }
func (s *Session) Timeline() *timeline.Reconstructor  { return s.timeline }
func (s *Session) Ticker() *ticker.Ticker             { return s.ticker }
func (s *Session) Aggregator() *aggregator.Aggregator { return s.aggregator }
func (s *Session) Status() stream.Status              { return s.manager.Status() }
