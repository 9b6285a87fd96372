package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Stream metrics
	FramesReceivedTotal  int64
	FramesMalformedTotal int64
	FramesUnknownTotal   int64
	framesByType         map[string]int64
	ReconnectsTotal      int64
	streamState          string

	// WebSocket (presentation) metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	WebSocketErrorsTotal         int64
	activeConnections            int64

	// Aggregation metrics
	SnapshotsBroadcastTotal int64
	lastSnapshotDuration    time.Duration

	// Fleet metrics
	agentsByStatus map[types.AgentStatus]int
	totalAgents    int
	messagesTotal  int

	// Collaborators
	HealthPollsTotal    int64
	HealthFailuresTotal int64
	BanRequestsTotal    int64
	BanFailuresTotal    int64

	// HTTP metrics
	httpRequestsTotal map[string]map[int]int64 // endpoint -> status -> count

	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an isolated metrics set, used by tests
func New() *Metrics {
	return &Metrics{
		framesByType:      make(map[string]int64),
		agentsByStatus:    make(map[types.AgentStatus]int),
		httpRequestsTotal: make(map[string]map[int]int64),
		streamState:       "closed",
		startTime:         time.Now(),
	}
}

// RecordFrame counts a decoded frame by envelope type
func (m *Metrics) RecordFrame(msgType string) {
	m.mu.Lock()
	m.FramesReceivedTotal++
	m.framesByType[msgType]++
	m.mu.Unlock()
}

// RecordMalformed counts a frame that failed to decode
func (m *Metrics) RecordMalformed() {
	m.mu.Lock()
	m.FramesReceivedTotal++
	m.FramesMalformedTotal++
	m.mu.Unlock()
}

// RecordUnknown counts a frame that decoded but carried no known type
func (m *Metrics) RecordUnknown() {
	m.mu.Lock()
	m.FramesReceivedTotal++
	m.FramesUnknownTotal++
	m.mu.Unlock()
}

// FrameCount returns how many frames of msgType were dispatched
func (m *Metrics) FrameCount(msgType string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.framesByType[msgType]
}

// RecordStreamState tracks the connection manager state; entering
// "reconnecting" counts as one reconnect
func (m *Metrics) RecordStreamState(state string) {
	m.mu.Lock()
	if state == "reconnecting" && m.streamState != "reconnecting" {
		m.ReconnectsTotal++
	}
	m.streamState = state
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.mu.Lock()
	m.WebSocketErrorsTotal++
	m.mu.Unlock()
}

// RecordSnapshot records one view snapshot broadcast
func (m *Metrics) RecordSnapshot(duration time.Duration) {
	m.mu.Lock()
	m.SnapshotsBroadcastTotal++
	m.lastSnapshotDuration = duration
	m.mu.Unlock()
}

// UpdateFleetStats updates agent distribution metrics
func (m *Metrics) UpdateFleetStats(agents []types.AgentStatusEntry, messages int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agentsByStatus = make(map[types.AgentStatus]int)
	m.totalAgents = len(agents)
	m.messagesTotal = messages
	for _, agent := range agents {
		m.agentsByStatus[agent.Status]++
	}
}

// RecordHealthPoll records the outcome of one status poll
func (m *Metrics) RecordHealthPoll(healthy bool) {
	m.mu.Lock()
	m.HealthPollsTotal++
	if !healthy {
		m.HealthFailuresTotal++
	}
	m.mu.Unlock()
}

// RecordBan records the outcome of one ban command
func (m *Metrics) RecordBan(err error) {
	m.mu.Lock()
	m.BanRequestsTotal++
	if err != nil {
		m.BanFailuresTotal++
	}
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++
}

// HTTPRequestCount returns the requests recorded for endpoint across all statuses
func (m *Metrics) HTTPRequestCount(endpoint string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, n := range m.httpRequestsTotal[endpoint] {
		total += n
	}
	return total
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		write := func(name string, value interface{}, labels ...string) {
			var b strings.Builder
			b.WriteString(name)
			if len(labels) > 0 {
				b.WriteString("{")
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						b.WriteString(",")
					}
					b.WriteString(labels[i] + "=\"" + labels[i+1] + "\"")
				}
				b.WriteString("}")
			}
			b.WriteString(" ")

			switch v := value.(type) {
			case int:
				b.WriteString(strconv.Itoa(v))
			case int64:
				b.WriteString(strconv.FormatInt(v, 10))
			case float64:
				b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
			}
			b.WriteString("\n")
			w.Write([]byte(b.String()))
		}

		write("expose_uptime_seconds", time.Since(m.startTime).Seconds())

		// Stream
		write("expose_frames_received_total", m.FramesReceivedTotal)
		write("expose_frames_malformed_total", m.FramesMalformedTotal)
		write("expose_frames_unknown_total", m.FramesUnknownTotal)
		for _, t := range sortedKeys(m.framesByType) {
			write("expose_frames_by_type_total", m.framesByType[t], "type", t)
		}
		write("expose_stream_reconnects_total", m.ReconnectsTotal)
		write("expose_stream_state", 1, "state", m.streamState)

		// WebSocket
		write("expose_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("expose_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("expose_websocket_active_connections", m.activeConnections)
		write("expose_websocket_messages_total", m.WebSocketMessagesTotal)
		write("expose_websocket_errors_total", m.WebSocketErrorsTotal)

		// Aggregation
		write("expose_snapshots_broadcast_total", m.SnapshotsBroadcastTotal)
		write("expose_snapshot_duration_seconds", m.lastSnapshotDuration.Seconds())

		// Fleet
		write("expose_agents_total", m.totalAgents)
		write("expose_messages_total", m.messagesTotal)
		for _, status := range types.AllStatuses {
			write("expose_agents_by_status", m.agentsByStatus[status], "status", string(status))
		}

		// Collaborators
		write("expose_health_polls_total", m.HealthPollsTotal)
		write("expose_health_failures_total", m.HealthFailuresTotal)
		write("expose_ban_requests_total", m.BanRequestsTotal)
		write("expose_ban_failures_total", m.BanFailuresTotal)

		// HTTP
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("expose_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}

func sortedKeys(in map[string]int64) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
