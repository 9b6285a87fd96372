package ticker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/store"
	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the display refresh rate while a timer runs
const DefaultInterval = 10 * time.Millisecond

// Display is the formatted pair of mission timers
type Display struct {
	Global   string `json:"global"`
	Delta    string `json:"delta"`
	GlobalMs int64  `json:"globalMs"`
	DeltaMs  int64  `json:"deltaMs"`
	Running  bool   `json:"running"`
	Finished bool   `json:"finished"`
}

// Format renders milliseconds as mm:ss:cc
func Format(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	centis := (ms % 1000) / 10
	return fmt.Sprintf("%02d:%02d:%02d", minutes, seconds, centis)
}

// Compute derives both timers at nowMs. A finished state is frozen at its
// freeze timestamp regardless of nowMs.
func Compute(state types.TimerState, nowMs float64) Display {
	end := nowMs
	if state.Finished && state.FreezeAt != nil {
		end = *state.FreezeAt
	}

	var globalMs, deltaMs int64
	if state.GlobalStart != nil {
		globalMs = elapsed(*state.GlobalStart, end)
	}
	if state.DeltaStart != nil {
		deltaMs = elapsed(*state.DeltaStart, end)
	}

	return Display{
		Global:   Format(globalMs),
		Delta:    Format(deltaMs),
		GlobalMs: globalMs,
		DeltaMs:  deltaMs,
		Running:  state.Running(),
		Finished: state.Finished,
	}
}

func elapsed(start, end float64) int64 {
	d := math.Floor(end - start)
	if d < 0 {
		return 0
	}
	return int64(d)
}

// Ticker refreshes the timer display every interval, but only while a timer
// is running and not finished
type Ticker struct {
	store    *store.Store
	clock    clock.Clock
	interval time.Duration
	onTick   func(Display)
	logger   zerolog.Logger

	mu      sync.RWMutex
	current Display
	ticking bool
	ticks   int64
}

// NewTicker creates a new Ticker. onTick may be nil.
func NewTicker(s *store.Store, c clock.Clock, interval time.Duration, onTick func(Display), logger zerolog.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.Real()
	}
	return &Ticker{
		store:    s,
		clock:    c,
		interval: interval,
		onTick:   onTick,
		logger:   logger.With().Str("component", "ticker").Logger(),
		current:  Compute(types.TimerState{}, 0),
	}
}

// Start follows the timer slice until ctx is cancelled
func (t *Ticker) Start(ctx context.Context) {
	changed := make(chan struct{}, 1)
	unsubscribe := t.store.Subscribe(func(slice store.Slice) {
		if slice != store.SliceTimers {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var tk *clock.Ticker
	var tickC <-chan time.Time

	stopTicking := func() {
		if tk == nil {
			return
		}
		tk.Stop()
		tk, tickC = nil, nil
		t.setTicking(false)
		t.logger.Debug().Msg("timer tick stopped")
	}
	defer stopTicking()

	refresh := func() {
		state := t.store.Timers()
		t.publish(state)
		if !state.Running() {
			stopTicking()
			return
		}
		if tk == nil {
			tk = t.clock.NewTicker(t.interval)
			tickC = tk.C
			t.setTicking(true)
			t.logger.Debug().Dur("interval", t.interval).Msg("timer tick started")
		}
	}

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")
	refresh()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case <-changed:
			refresh()

		case <-tickC:
			t.mu.Lock()
			t.ticks++
			t.mu.Unlock()
			t.publish(t.store.Timers())
		}
	}
}

func (t *Ticker) publish(state types.TimerState) {
	d := Compute(state, nowMs(t.clock))

	t.mu.Lock()
	t.current = d
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(d)
	}
}

func (t *Ticker) setTicking(on bool) {
	t.mu.Lock()
	t.ticking = on
	t.mu.Unlock()
}

// Current returns the display as of the last tick or timer change
func (t *Ticker) Current() Display {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Now computes the display fresh from the store
func (t *Ticker) Now() Display {
	return Compute(t.store.Timers(), nowMs(t.clock))
}

// Ticking reports whether the periodic refresh is armed
func (t *Ticker) Ticking() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ticking
}

// Ticks returns how many periodic refreshes ran
func (t *Ticker) Ticks() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ticks
}

func nowMs(c clock.Clock) float64 {
	return float64(c.Now().UnixNano()) / float64(time.Millisecond)
}
