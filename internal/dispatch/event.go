package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dij0s/eXPOSE/internal/timeline"
	"github.com/dij0s/eXPOSE/internal/types"
)

// Event is the decoded form of one inbound frame. The set of implementations
// is closed: StatusSnapshot, StatusUpdate, Chat, Timer, MapUpdate, Unknown.
type Event interface {
	eventType() string
}

// StatusSnapshot replaces the whole status map
type StatusSnapshot struct {
	Entries map[string]types.AgentStatusEntry
}

// StatusUpdate upserts one agent entry
type StatusUpdate struct {
	Entry types.AgentStatusEntry
}

// Chat appends one message to the log
type Chat struct {
	Message types.ChatMessage
}

// Timer is one timer lifecycle event; Event is already validated
type Timer struct {
	Event     string
	Timestamp float64
}

// MapUpdate overwrites the map snapshot
type MapUpdate struct {
	Image string
}

// Unknown is any frame whose type (or timer sub-event) is not recognized
type Unknown struct {
	Type string
}

func (StatusSnapshot) eventType() string { return types.MsgInitialStates }
func (StatusUpdate) eventType() string   { return types.MsgStateUpdate }
func (Chat) eventType() string           { return types.MsgChat }
func (Timer) eventType() string          { return types.MsgTimer }
func (MapUpdate) eventType() string      { return types.MsgMazePlan }
func (u Unknown) eventType() string      { return u.Type }

// Decode parses a frame into an Event. newID supplies chat ids missing from
// the frame. Only malformed JSON is an error; unrecognized types decode to Unknown.
func Decode(frame []byte, newID func() string) (Event, error) {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case types.MsgInitialStates:
		var msg types.InitialStatesMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		entries := make(map[string]types.AgentStatusEntry, len(msg.States))
		for id, row := range msg.States {
			entries[id] = types.AgentStatusEntry{
				AgentID:     id,
				Status:      types.AgentStatus(strings.ToUpper(row.Status)),
				Description: row.Description,
			}
		}
		return StatusSnapshot{Entries: entries}, nil

	case types.MsgStateUpdate:
		var msg types.StateUpdateMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if msg.AgentJID == "" && msg.Body != "" {
			var legacy types.LegacyStatusBody
			if err := json.Unmarshal([]byte(msg.Body), &legacy); err != nil {
				return nil, fmt.Errorf("decode %s body: %w", env.Type, err)
			}
			msg.AgentJID, msg.State = legacy.Agent, legacy.Status
		}
		if msg.AgentJID == "" {
			return nil, fmt.Errorf("decode %s: missing agent_jid", env.Type)
		}
		return StatusUpdate{Entry: StatusEntry(msg.AgentJID, msg.State, msg.Label)}, nil

	case types.MsgChat:
		var msg types.ChatMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		id := msg.ID
		if id == "" && newID != nil {
			id = newID()
		}
		return Chat{Message: types.ChatMessage{
			ID:             id,
			From:           StripResource(msg.From),
			To:             StripResource(msg.To),
			Body:           msg.Body,
			Timestamp:      msg.Timestamp,
			ConversationID: msg.ConversationID,
			Direction:      types.Direction(msg.Direction),
			Color:          timeline.Color(msg.ConversationID),
		}}, nil

	case types.MsgTimer:
		var msg types.TimerMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		switch msg.Data.Event {
		case types.TimerGlobalStart, types.TimerDeltaStart, types.TimerGlobalEnd:
			return Timer{Event: msg.Data.Event, Timestamp: msg.Data.Timestamp}, nil
		}
		return Unknown{Type: env.Type + "/" + msg.Data.Event}, nil

	case types.MsgMazePlan:
		var msg types.MazePlanMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return MapUpdate{Image: msg.Image}, nil
	}

	return Unknown{Type: env.Type}, nil
}

// StatusEntry normalizes a raw status update: the status is uppercased and
// the description is "<STATUS> - <label>", or just the status without a label
func StatusEntry(agentID, state, label string) types.AgentStatusEntry {
	status := strings.ToUpper(strings.TrimSpace(state))
	description := status
	if label != "" {
		description = status + " - " + label
	}
	return types.AgentStatusEntry{
		AgentID:     agentID,
		Status:      types.AgentStatus(status),
		Description: description,
	}
}

// StripResource drops the transport resource suffix after the last "/"
func StripResource(address string) string {
	if i := strings.LastIndex(address, "/"); i >= 0 {
		return address[:i]
	}
	return address
}
