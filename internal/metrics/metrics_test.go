package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dij0s/eXPOSE/internal/types"
)

func TestHandlerOutput(t *testing.T) {
	m := New()
	m.RecordFrame("chat")
	m.RecordFrame("chat")
	m.RecordMalformed()
	m.RecordUnknown()
	m.RecordStreamState("reconnecting")
	m.RecordStreamState("reconnecting")
	m.RecordStreamState("open")
	m.RecordStreamState("reconnecting")
	m.RecordBan(errors.New("denied"))
	m.RecordHealthPoll(true)
	m.UpdateFleetStats([]types.AgentStatusEntry{
		{AgentID: "a", Status: types.StatusIdle},
		{AgentID: "b", Status: types.StatusIdle},
	}, 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler()(rr, req)

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}

	body := rr.Body.String()
	want := []string{
		"expose_frames_received_total 4\n",
		"expose_frames_malformed_total 1\n",
		"expose_frames_unknown_total 1\n",
		`expose_frames_by_type_total{type="chat"} 2` + "\n",
		"expose_stream_reconnects_total 2\n",
		`expose_stream_state{state="reconnecting"} 1` + "\n",
		`expose_agents_by_status{status="IDLE"} 2` + "\n",
		`expose_agents_by_status{status="OFF"} 0` + "\n",
		"expose_messages_total 3\n",
		"expose_ban_failures_total 1\n",
		"expose_health_polls_total 1\n",
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Errorf("missing %q in output:\n%s", line, body)
		}
	}
}

func TestGetReturnsSingleton(t *testing.T) {
	if Get() != Get() {
		t.Error("expected Get to return the same instance")
	}
	if m := New(); m.FrameCount("chat") != 0 {
		t.Error("expected fresh metrics to be empty")
	}
}
