package store

import (
	"sort"
	"sync"

	"github.com/dij0s/eXPOSE/internal/types"
)

// Slice identifies one independently mutated partition of the state
type Slice int

const (
	SliceStatus Slice = iota
	SliceMessages
	SliceTimers
	SliceMap
)

func (s Slice) String() string {
	switch s {
	case SliceStatus:
		return "status"
	case SliceMessages:
		return "messages"
	case SliceTimers:
		return "timers"
	case SliceMap:
		return "map"
	}
	return "unknown"
}

// Listener is notified after a slice changed, outside the store lock
type Listener func(Slice)

// Store holds the reconstructed fleet state. Mutators are called by the
// dispatcher only; readers get copies.
type Store struct {
	known []string

	mu       sync.RWMutex
	statuses map[string]types.AgentStatusEntry
	messages []types.ChatMessage
	timers   types.TimerState
	mapSnap  types.MapSnapshot

	subMu     sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates a store seeded with an OFF entry for every known agent
func New(knownAgents []string) *Store {
	s := &Store{
		known:     append([]string(nil), knownAgents...),
		listeners: make(map[int]Listener),
	}
	s.statuses = s.seed()
	return s
}

func (s *Store) seed() map[string]types.AgentStatusEntry {
	m := make(map[string]types.AgentStatusEntry, len(s.known))
	for _, id := range s.known {
		m[id] = types.DefaultStatusEntry(id)
	}
	return m
}

// Subscribe registers fn for change notifications and returns the unsubscribe func
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.listeners, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(slice Slice) {
	s.subMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(slice)
	}
}

// ReplaceStatuses swaps the whole status map. Known agents missing from the
// snapshot keep their default entry.
func (s *Store) ReplaceStatuses(entries map[string]types.AgentStatusEntry) {
	s.mu.Lock()
	next := s.seed()
	for id, e := range entries {
		e.AgentID = id
		next[id] = e
	}
	s.statuses = next
	s.mu.Unlock()

	s.publish(SliceStatus)
}

// UpsertStatus replaces a single agent entry
func (s *Store) UpsertStatus(entry types.AgentStatusEntry) {
	s.mu.Lock()
	s.statuses[entry.AgentID] = entry
	s.mu.Unlock()

	s.publish(SliceStatus)
}

// AppendMessage adds a message to the log, arrival order preserved
func (s *Store) AppendMessage(msg types.ChatMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.publish(SliceMessages)
}

// StartGlobal clears the delta timer and the finished flag and starts the global timer
func (s *Store) StartGlobal(ts float64) {
	s.mu.Lock()
	s.timers = types.TimerState{GlobalStart: &ts}
	s.mu.Unlock()

	s.publish(SliceTimers)
}

// StartDelta starts the delta timer without touching the global one
func (s *Store) StartDelta(ts float64) {
	s.mu.Lock()
	s.timers.DeltaStart = &ts
	s.mu.Unlock()

	s.publish(SliceTimers)
}

// Finish freezes both timers at ts
func (s *Store) Finish(ts float64) {
	s.mu.Lock()
	s.timers.Finished = true
	s.timers.FreezeAt = &ts
	s.mu.Unlock()

	s.publish(SliceTimers)
}

// SetMap overwrites the map snapshot
func (s *Store) SetMap(snap types.MapSnapshot) {
	s.mu.Lock()
	s.mapSnap = snap
	s.mu.Unlock()

	s.publish(SliceMap)
}

// Statuses returns every entry sorted by agent id
func (s *Store) Statuses() []types.AgentStatusEntry {
	s.mu.RLock()
	out := make([]types.AgentStatusEntry, 0, len(s.statuses))
	for _, e := range s.statuses {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Status returns a single agent entry
func (s *Store) Status(agentID string) (types.AgentStatusEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.statuses[agentID]
	return e, ok
}

// Messages returns a copy of the message log in arrival order
func (s *Store) Messages() []types.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ChatMessage(nil), s.messages...)
}

// MessageCount returns the log length
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Timers returns a deep copy of the timer state
func (s *Store) Timers() types.TimerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timers.Clone()
}

// Map returns the latest map snapshot
func (s *Store) Map() types.MapSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapSnap
}
