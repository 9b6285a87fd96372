package dispatch

import (
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/dij0s/eXPOSE/internal/store"
	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher routes decoded frames into the store. Each event mutates
// exactly one slice; bad frames are logged, counted and dropped.
type Dispatcher struct {
	store   *store.Store
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  zerolog.Logger
	newID   func() string
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMetrics overrides the global metrics instance
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock sets the clock used to stamp map snapshots
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithIDGenerator replaces the uuid generator for chat frames without an id
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// New creates a dispatcher writing into s
func New(s *store.Store, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   s,
		metrics: metrics.Get(),
		clock:   clock.Real(),
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one raw frame. It never returns an error to the read loop.
func (d *Dispatcher) Dispatch(frame []byte) {
	event, err := Decode(frame, d.newID)
	if err != nil {
		d.metrics.RecordMalformed()
		d.logger.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping malformed frame")
		return
	}
	d.Apply(event)
}

// Apply mutates the store for a decoded event
func (d *Dispatcher) Apply(event Event) {
	switch e := event.(type) {
	case StatusSnapshot:
		d.store.ReplaceStatuses(e.Entries)
		d.logger.Debug().Int("agents", len(e.Entries)).Msg("status snapshot applied")

	case StatusUpdate:
		d.store.UpsertStatus(e.Entry)
		d.logger.Debug().
			Str("agent_id", e.Entry.AgentID).
			Str("status", string(e.Entry.Status)).
			Msg("agent status updated")

	case Chat:
		d.store.AppendMessage(e.Message)
		d.logger.Debug().
			Str("from", e.Message.From).
			Str("to", e.Message.To).
			Str("conversation_id", e.Message.ConversationID).
			Msg("chat message appended")

	case Timer:
		switch e.Event {
		case types.TimerGlobalStart:
			d.store.StartGlobal(e.Timestamp)
		case types.TimerDeltaStart:
			d.store.StartDelta(e.Timestamp)
		case types.TimerGlobalEnd:
			d.store.Finish(e.Timestamp)
		}
		d.logger.Debug().Str("event", e.Event).Float64("timestamp", e.Timestamp).Msg("timer event")

	case MapUpdate:
		d.store.SetMap(types.MapSnapshot{Image: e.Image, ReceivedAt: d.clock.Now().UTC().Truncate(time.Millisecond)})
		d.logger.Debug().Int("bytes", len(e.Image)).Msg("map snapshot replaced")

	case Unknown:
		d.metrics.RecordUnknown()
		d.logger.Debug().Str("type", e.Type).Msg("dropping unknown event")
		return

	default:
		d.metrics.RecordUnknown()
		return
	}

	d.metrics.RecordFrame(event.eventType())
}
