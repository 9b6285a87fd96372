package types

import "time"

// AgentStatus represents the execution status reported for a robot agent
type AgentStatus string

const (
	StatusOff       AgentStatus = "OFF"
	StatusIdle      AgentStatus = "IDLE"
	StatusExecuting AgentStatus = "EXECUTING"
)

// AllStatuses lists every status the dashboard knows how to render
var AllStatuses = []AgentStatus{StatusOff, StatusIdle, StatusExecuting}

// AgentStatusEntry is one row of the agent status map
type AgentStatusEntry struct {
	AgentID     string      `json:"agentId"`
	Status      AgentStatus `json:"status"`
	Description string      `json:"description"`
}

// DefaultStatusEntry returns the entry seeded for an agent before any event arrives
func DefaultStatusEntry(agentID string) AgentStatusEntry {
	return AgentStatusEntry{
		AgentID:     agentID,
		Status:      StatusOff,
		Description: string(StatusOff),
	}
}

// Direction of a chat message relative to the bus observer
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ChatMessage is a single entry of the message log
type ChatMessage struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Body           string    `json:"body"`
	Timestamp      float64   `json:"timestamp"` // seconds, fractional allowed
	ConversationID string    `json:"conversationId"`
	Direction      Direction `json:"direction"`
	Color          string    `json:"color"` // derived from ConversationID
}

// Time converts the fractional-second timestamp to a time.Time
func (m ChatMessage) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// TimerState holds the shared mission timers
type TimerState struct {
	GlobalStart *float64 `json:"globalStart,omitempty"`
	DeltaStart  *float64 `json:"deltaStart,omitempty"`
	Finished    bool     `json:"finished"`
	FreezeAt    *float64 `json:"freezeAt,omitempty"`
}

// Running reports whether at least one timer is started and the run is not finished
func (t TimerState) Running() bool {
	return !t.Finished && (t.GlobalStart != nil || t.DeltaStart != nil)
}

// Clone returns a deep copy so callers never share the pointer fields
func (t TimerState) Clone() TimerState {
	out := TimerState{Finished: t.Finished}
	if t.GlobalStart != nil {
		v := *t.GlobalStart
		out.GlobalStart = &v
	}
	if t.DeltaStart != nil {
		v := *t.DeltaStart
		out.DeltaStart = &v
	}
	if t.FreezeAt != nil {
		v := *t.FreezeAt
		out.FreezeAt = &v
	}
	return out
}

// MapSnapshot is the latest maze plan image
type MapSnapshot struct {
	Image      string    `json:"image"` // base64 PNG
	ReceivedAt time.Time `json:"receivedAt"`
}

// Empty reports whether no maze plan has been received yet
func (m MapSnapshot) Empty() bool {
	return m.Image == ""
}
