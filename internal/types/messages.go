package types

// Wire-level type discriminators of the inbound envelope
const (
	MsgInitialStates = "initial_states"
	MsgStateUpdate   = "state_update"
	MsgChat          = "chat"
	MsgTimer         = "timer"
	MsgMazePlan      = "maze_plan"
)

// Timer sub-events carried in TimerMsg.Data.Event
const (
	TimerGlobalStart = "global_start"
	TimerDeltaStart  = "delta_start"
	TimerGlobalEnd   = "global_end"
)

// Envelope is the common header of every inbound frame
type Envelope struct {
	Type string `json:"type"`
}

// InitialStatesMsg is the bulk status snapshot sent when the stream opens
type InitialStatesMsg struct {
	Type   string                     `json:"type"` // "initial_states"
	States map[string]InitialAgentRow `json:"states"`
}

// InitialAgentRow is a single agent inside InitialStatesMsg
type InitialAgentRow struct {
	Status      string `json:"status"`
	Description string `json:"description"`
}

// StateUpdateMsg updates a single agent status
type StateUpdateMsg struct {
	Type     string `json:"type"` // "state_update"
	AgentJID string `json:"agent_jid"`
	State    string `json:"state"`
	Label    string `json:"label"`
	// Body is the older form: a JSON encoded LegacyStatusBody
	Body string `json:"body,omitempty"`
}

// LegacyStatusBody is carried in StateUpdateMsg.Body by older fleet backends
type LegacyStatusBody struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

// ChatMsg is one message observed on the bus
type ChatMsg struct {
	Type           string  `json:"type"` // "chat"
	ID             string  `json:"id,omitempty"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	Body           string  `json:"body"`
	Timestamp      float64 `json:"timestamp"`
	ConversationID string  `json:"conversation_id"`
	Direction      string  `json:"direction"`
}

// TimerMsg carries a timer lifecycle event
type TimerMsg struct {
	Type string    `json:"type"` // "timer"
	Data TimerData `json:"data"`
}

// TimerData is the payload of TimerMsg
type TimerData struct {
	Event     string  `json:"event"`
	Timestamp float64 `json:"timestamp"`
}

// MazePlanMsg carries a base64 encoded map image
type MazePlanMsg struct {
	Type  string `json:"type"` // "maze_plan"
	Image string `json:"image"`
}

// BanRequest is the body of POST /api/ban
type BanRequest struct {
	Agent string `json:"agent"`
}

// BanResponse is returned by POST /api/ban
type BanResponse struct {
	BanTimeout int64  `json:"ban_timeout,omitempty"` // milliseconds
	Error      string `json:"error,omitempty"`
}
