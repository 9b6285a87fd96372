package fleetsim

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrRunning       = errors.New("simulation already running")
	ErrNotRunning    = errors.New("simulation not running")
	ErrUnknownAgent  = errors.New("agent not found")
	ErrAlreadyBanned = errors.New("agent already banned")
)

// Emitter receives every frame the simulated backend publishes
type Emitter interface {
	Broadcast(message []byte)
}

// Options tunes a simulated mission
type Options struct {
	Agents       []string
	Seed         int64
	StepInterval time.Duration
	MissionSteps int // global_end is sent after this many steps
	PhaseSteps   int // a new delta phase and maze plan every PhaseSteps
	BanTimeout   time.Duration
	Clock        clock.Clock

	// LegacyStatus publishes state_update in the older form carrying a JSON
	// encoded {"agent","status"} body
	LegacyStatus bool
}

// Robot is the simulated state of one agent
type Robot struct {
	JID         string            `json:"jid"`
	Status      types.AgentStatus `json:"status"`
	Label       string            `json:"label"`
	BannedUntil *time.Time        `json:"bannedUntil,omitempty"`
}

// Status is the simulator state reported by the control API
type Status struct {
	Running    bool       `json:"running"`
	Agents     int        `json:"agents"`
	Step       int        `json:"step"`
	EventsSent int64      `json:"eventsSent"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}

// Simulator plays a robot mission and publishes it as bus frames
type Simulator struct {
	emitter   Emitter
	opts      Options
	generator *Generator
	clock     clock.Clock
	logger    zerolog.Logger

	stepMu sync.Mutex // serializes Step so frames keep their order

	mu        sync.RWMutex
	robots    []Robot
	running   bool
	step      int
	startedAt *time.Time
	cancel    context.CancelFunc
	mission   int // bumped per Start so a stale run loop cannot end a newer mission

	eventsSent int64
}

// NewSimulator creates a simulator with every robot OFF
func NewSimulator(emitter Emitter, opts Options, logger zerolog.Logger) *Simulator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = time.Second
	}
	if opts.MissionSteps <= 0 {
		opts.MissionSteps = 120
	}
	if opts.PhaseSteps <= 0 {
		opts.PhaseSteps = 30
	}
	if opts.BanTimeout <= 0 {
		opts.BanTimeout = 30 * time.Second
	}

	robots := make([]Robot, len(opts.Agents))
	for i, jid := range opts.Agents {
		robots[i] = Robot{JID: jid, Status: types.StatusOff, Label: "offline"}
	}

	return &Simulator{
		emitter:   emitter,
		opts:      opts,
		generator: NewGenerator(opts.Seed),
		clock:     opts.Clock,
		logger:    logger.With().Str("component", "simulator").Logger(),
		robots:    robots,
	}
}

// InitialStates is the snapshot frame sent to every client as it connects
func (s *Simulator) InitialStates() []byte {
	s.mu.RLock()
	msg := types.InitialStatesMsg{
		Type:   types.MsgInitialStates,
		States: make(map[string]types.InitialAgentRow, len(s.robots)),
	}
	for _, r := range s.robots {
		msg.States[r.JID] = types.InitialAgentRow{
			Status:      string(r.Status),
			Description: "STATUS - " + r.Label,
		}
	}
	s.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal initial states")
		return nil
	}
	return data
}

// Start begins a mission. Steps run every StepInterval until the mission
// ends, Stop is called or ctx is cancelled.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	now := s.clock.Now()
	s.running = true
	s.step = 0
	s.startedAt = &now
	s.cancel = cancel
	s.mission++
	mission := s.mission

	var frames [][]byte
	frames = append(frames,
		s.timerFrame(types.TimerGlobalStart, now),
		s.timerFrame(types.TimerDeltaStart, now),
	)
	for i := range s.robots {
		if s.bannedLocked(i, now) {
			continue
		}
		frames = append(frames, s.setStatusLocked(i, types.StatusIdle, ""))
	}
	s.mu.Unlock()

	s.emit(frames...)
	s.logger.Info().Int("agents", len(s.robots)).Msg("mission started")

	go s.run(ctx, mission)
	return nil
}

func (s *Simulator) run(ctx context.Context, mission int) {
	ticker := s.clock.NewTicker(s.opts.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.mission == mission && s.running {
				s.running = false
				s.startedAt = nil
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			if !s.Step() {
				return
			}
		}
	}
}

// Stop aborts the running mission without sending global_end
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	s.cancel()
	s.running = false
	s.startedAt = nil
	s.logger.Info().Int("step", s.step).Msg("mission stopped")
	return nil
}

// Step advances the mission by one step and reports whether it is still running
func (s *Simulator) Step() bool {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.Lock()
	if !s.running || len(s.robots) == 0 {
		s.mu.Unlock()
		return false
	}
	s.step++
	step := s.step
	now := s.clock.Now()

	var frames [][]byte

	// One robot flips between IDLE and EXECUTING
	i := step % len(s.robots)
	if !s.bannedLocked(i, now) {
		next := types.StatusExecuting
		if s.robots[i].Status == types.StatusExecuting {
			next = types.StatusIdle
		}
		frames = append(frames, s.setStatusLocked(i, next, ""))
	}

	// and talks to its neighbour
	from := s.robots[i].JID
	to := s.robots[(i+1)%len(s.robots)].JID
	body := s.generator.Phrase()
	if step%4 == 0 {
		body = s.generator.Maze(6)
	}
	frames = append(frames, s.chatFrame(from, to, body, now))

	if step%s.opts.PhaseSteps == 0 {
		frames = append(frames,
			s.timerFrame(types.TimerDeltaStart, now),
			s.mapFrame(),
		)
	}

	finished := step >= s.opts.MissionSteps
	if finished {
		frames = append(frames, s.timerFrame(types.TimerGlobalEnd, now))
		s.running = false
		s.startedAt = nil
		s.cancel()
	}
	s.mu.Unlock()

	s.emit(frames...)
	if finished {
		s.logger.Info().Int("steps", step).Msg("mission finished")
	}
	return !finished
}

// Ban switches an agent OFF for BanTimeout
func (s *Simulator) Ban(jid string) (time.Duration, error) {
	s.mu.Lock()
	now := s.clock.Now()
	idx := -1
	for i := range s.robots {
		if s.robots[i].JID == jid {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return 0, ErrUnknownAgent
	}
	if s.bannedLocked(idx, now) {
		s.mu.Unlock()
		return 0, ErrAlreadyBanned
	}

	frame := s.setStatusLocked(idx, types.StatusOff, "banned")
	until := now.Add(s.opts.BanTimeout)
	s.robots[idx].BannedUntil = &until
	s.mu.Unlock()

	s.emit(frame)
	s.logger.Info().Str("agent", jid).Dur("ban_timeout", s.opts.BanTimeout).Msg("agent banned")
	return s.opts.BanTimeout, nil
}

// Robots returns a snapshot of every robot
func (s *Simulator) Robots() []Robot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Robot, len(s.robots))
	copy(out, s.robots)
	return out
}

// Status reports the mission progress
func (s *Simulator) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Running:    s.running,
		Agents:     len(s.robots),
		Step:       s.step,
		EventsSent: atomic.LoadInt64(&s.eventsSent),
		StartedAt:  s.startedAt,
	}
}

// HandleCommand logs a frame sent upstream by a dashboard
func (s *Simulator) HandleCommand(clientID string, message []byte) {
	var env types.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn().Err(err).Str("client_id", clientID).Msg("malformed command")
		return
	}
	s.logger.Info().Str("client_id", clientID).Str("type", env.Type).Msg("command received")
}

func (s *Simulator) bannedLocked(i int, now time.Time) bool {
	until := s.robots[i].BannedUntil
	return until != nil && now.Before(*until)
}

// setStatusLocked changes a robot's status and returns the state_update
// frame. An empty label picks a random one for the status.
func (s *Simulator) setStatusLocked(i int, status types.AgentStatus, label string) []byte {
	if label == "" {
		label = s.generator.Label(string(status))
	}
	s.robots[i].Status = status
	s.robots[i].Label = label
	s.robots[i].BannedUntil = nil

	if s.opts.LegacyStatus {
		body := s.marshal(types.LegacyStatusBody{Agent: s.robots[i].JID, Status: string(status)})
		return s.marshal(types.StateUpdateMsg{Type: types.MsgStateUpdate, Body: string(body)})
	}
	return s.marshal(types.StateUpdateMsg{
		Type:     types.MsgStateUpdate,
		AgentJID: s.robots[i].JID,
		State:    string(status),
		Label:    label,
	})
}

func (s *Simulator) chatFrame(from, to, body string, now time.Time) []byte {
	resource := s.generator.Resource()
	return s.marshal(types.ChatMsg{
		Type:           types.MsgChat,
		From:           from + "/" + resource,
		To:             to,
		Body:           body,
		Timestamp:      float64(now.UnixMilli()) / 1000,
		ConversationID: from + "/" + resource + "-" + to,
		Direction:      string(types.DirectionSent),
	})
}

func (s *Simulator) timerFrame(event string, now time.Time) []byte {
	return s.marshal(types.TimerMsg{
		Type: types.MsgTimer,
		Data: types.TimerData{Event: event, Timestamp: float64(now.UnixMilli())},
	})
}

func (s *Simulator) mapFrame() []byte {
	return s.marshal(types.MazePlanMsg{Type: types.MsgMazePlan, Image: s.generator.Maze(16)})
}

func (s *Simulator) marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal frame")
		return nil
	}
	return data
}

func (s *Simulator) emit(frames ...[]byte) {
	for _, f := range frames {
		if f == nil {
			continue
		}
		s.emitter.Broadcast(f)
		atomic.AddInt64(&s.eventsSent, 1)
	}
}
