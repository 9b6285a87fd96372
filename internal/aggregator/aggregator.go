package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/dij0s/eXPOSE/internal/store"
	"github.com/dij0s/eXPOSE/internal/stream"
	"github.com/dij0s/eXPOSE/internal/ticker"
	"github.com/dij0s/eXPOSE/internal/timeline"
	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Frame types pushed to presentation clients
const (
	FrameAgents     = "agents"
	FrameTimeline   = "timeline"
	FrameTimers     = "timers"
	FrameMap        = "map"
	FrameConnection = "connection"
)

var frameOrder = []string{FrameConnection, FrameAgents, FrameTimeline, FrameTimers, FrameMap}

// Frame is one view update
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Summary is the fleet overview sent with the agent list
type Summary struct {
	TotalAgents     int                       `json:"totalAgents"`
	StatusBreakdown map[types.AgentStatus]int `json:"statusBreakdown"`
	Messages        int                       `json:"messages"`
	MessagesText    string                    `json:"messagesText"`
}

// AgentsView is the payload of an agents frame
type AgentsView struct {
	Agents  []types.AgentStatusEntry `json:"agents"`
	Summary Summary                  `json:"summary"`
}

// MapView is the payload of a map frame
type MapView struct {
	types.MapSnapshot
	Age string `json:"age,omitempty"`
}

// Broadcaster fans frames out to presentation clients
type Broadcaster interface {
	Broadcast(message []byte)
	ClientCount() int
}

// Aggregator turns store changes into view frames
type Aggregator struct {
	store    *store.Store
	timeline *timeline.Reconstructor
	hub      Broadcaster
	clock    clock.Clock
	logger   zerolog.Logger

	mu         sync.Mutex
	dirty      map[string]bool
	connection stream.Status
	timers     ticker.Display

	wake        chan struct{}
	unsubscribe func()
}

// NewAggregator creates a new aggregator and subscribes it to the store
func NewAggregator(s *store.Store, tl *timeline.Reconstructor, hub Broadcaster, c clock.Clock, logger zerolog.Logger) *Aggregator {
	if c == nil {
		c = clock.Real()
	}
	a := &Aggregator{
		store:    s,
		timeline: tl,
		hub:      hub,
		clock:    c,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		dirty:    make(map[string]bool),
		timers:   ticker.Compute(types.TimerState{}, 0),
		wake:     make(chan struct{}, 1),
	}
	a.unsubscribe = s.Subscribe(a.onSlice)
	return a
}

// Close detaches the aggregator from the store
func (a *Aggregator) Close() {
	a.unsubscribe()
}

func (a *Aggregator) onSlice(slice store.Slice) {
	switch slice {
	case store.SliceStatus:
		a.markDirty(FrameAgents)
	case store.SliceMessages:
		a.markDirty(FrameAgents, FrameTimeline)
	case store.SliceTimers:
		// the ticker reports timer changes through Timers
	case store.SliceMap:
		a.markDirty(FrameMap)
	}
}

func (a *Aggregator) markDirty(frames ...string) {
	a.mu.Lock()
	for _, f := range frames {
		a.dirty[f] = true
	}
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// ConnectionChanged records a connection status change
func (a *Aggregator) ConnectionChanged(status stream.Status) {
	a.mu.Lock()
	a.connection = status
	a.mu.Unlock()
	a.markDirty(FrameConnection)
}

// Timers records the latest timer display. Only changes are pushed.
func (a *Aggregator) Timers(d ticker.Display) {
	a.mu.Lock()
	same := a.timers == d
	a.timers = d
	a.mu.Unlock()
	if !same {
		a.markDirty(FrameTimers)
	}
}

// SelectionChanged pushes the timeline after the selected image changed
func (a *Aggregator) SelectionChanged() {
	a.markDirty(FrameTimeline)
}

// Start pushes pending frames until ctx is cancelled
func (a *Aggregator) Start(ctx context.Context) {
	a.logger.Info().Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return

		case <-a.wake:
			a.Flush()
		}
	}
}

// Flush builds and broadcasts every pending frame
func (a *Aggregator) Flush() int {
	a.mu.Lock()
	pending := a.dirty
	a.dirty = make(map[string]bool)
	a.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	cycleStart := time.Now()
	sent := 0
	for _, frameType := range frameOrder {
		if !pending[frameType] {
			continue
		}
		data, err := a.encode(frameType)
		if err != nil {
			a.logger.Error().Err(err).Str("frame", frameType).Msg("failed to marshal frame")
			continue
		}
		a.hub.Broadcast(data)
		sent++
	}

	metrics.Get().RecordSnapshot(time.Since(cycleStart))
	if pending[FrameAgents] {
		metrics.Get().UpdateFleetStats(a.store.Statuses(), a.store.MessageCount())
	}

	a.logger.Debug().
		Int("frames", sent).
		Int("clients", a.hub.ClientCount()).
		Msg("frames broadcasted")
	return sent
}

// Snapshot returns every frame type, used to bring a new client up to date
func (a *Aggregator) Snapshot() [][]byte {
	out := make([][]byte, 0, len(frameOrder))
	for _, frameType := range frameOrder {
		data, err := a.encode(frameType)
		if err != nil {
			a.logger.Error().Err(err).Str("frame", frameType).Msg("failed to marshal frame")
			continue
		}
		out = append(out, data)
	}
	return out
}

func (a *Aggregator) encode(frameType string) ([]byte, error) {
	return json.Marshal(Frame{Type: frameType, Data: a.build(frameType)})
}

func (a *Aggregator) build(frameType string) interface{} {
	switch frameType {
	case FrameAgents:
		return a.Agents()
	case FrameTimeline:
		return a.timeline.View()
	case FrameTimers:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.timers
	case FrameMap:
		return a.Map()
	case FrameConnection:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.connection
	}
	return nil
}

// Agents returns the status list with its summary
func (a *Aggregator) Agents() AgentsView {
	agents := a.store.Statuses()
	messages := a.store.MessageCount()

	summary := Summary{
		TotalAgents:     len(agents),
		StatusBreakdown: make(map[types.AgentStatus]int),
		Messages:        messages,
		MessagesText:    humanize.Comma(int64(messages)),
	}
	for _, agent := range agents {
		summary.StatusBreakdown[agent.Status]++
	}
	return AgentsView{Agents: agents, Summary: summary}
}

// Map returns the map snapshot with a relative age
func (a *Aggregator) Map() MapView {
	snap := a.store.Map()
	view := MapView{MapSnapshot: snap}
	if !snap.Empty() {
		view.Age = humanize.RelTime(snap.ReceivedAt, a.clock.Now(), "ago", "from now")
	}
	return view
}
