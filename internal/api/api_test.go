package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dij0s/eXPOSE/internal/auth"
	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/notify"
	"github.com/dij0s/eXPOSE/internal/penalty"
	"github.com/dij0s/eXPOSE/internal/session"
	"github.com/dij0s/eXPOSE/internal/storage"
	"github.com/dij0s/eXPOSE/internal/stream"
	"github.com/dij0s/eXPOSE/internal/transport"
	"github.com/dij0s/eXPOSE/pkg/client"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type fakeBanClient struct {
	timeout time.Duration
	err     error
}

func (f *fakeBanClient) Ban(context.Context, string) (time.Duration, error) {
	return f.timeout, f.err
}

type fakeSim struct {
	running bool
	err     error
}

func (f *fakeSim) SimulationStatus(context.Context) (*client.SimulationStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &client.SimulationStatus{Running: f.running, Agents: 3}, nil
}

func (f *fakeSim) Start(context.Context) error { f.running = true; return f.err }
func (f *fakeSim) Stop(context.Context) error  { f.running = false; return f.err }

type testServer struct {
	router  chi.Router
	session *session.Session
	conn    *transport.MemoryConn
	bans    *fakeBanClient
	sim     *fakeSim
}

func newTestServer(t *testing.T, authn *auth.Authenticator) *testServer {
	t.Helper()

	dialer := transport.NewMemoryDialer()
	s := session.New(dialer, session.Options{KnownAgents: []string{"r1@bus", "r2@bus"}}, zerolog.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for s.Status().State != stream.StateOpen {
		if time.Now().After(deadline) {
			t.Fatal("session never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	counter, err := penalty.NewCounter(storage.NewNoopStore(), []string{"r1@bus", "r2@bus"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	fc := clock.NewFake(time.Unix(0, 0))
	notices := notify.NewCenter(fc, 0)
	bans := &fakeBanClient{timeout: 30 * time.Second}
	sim := &fakeSim{}

	if authn == nil {
		authn, err = auth.New(context.Background(), auth.Config{SkipAuth: true}, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
	}

	r := chi.NewRouter()
	Register(r, Routes{
		Dashboard: NewDashboardHandler(s, zerolog.Nop()),
		Fleet:     NewFleetHandler(counter, penalty.NewBanner(bans, notices, fc, zerolog.Nop()), notices, nil, zerolog.Nop()),
		Sim:       NewSimulatorHandler(sim, zerolog.Nop()),
		Auth:      authn,
	})
	return &testServer{router: r, session: s, conn: dialer.Last(), bans: bans, sim: sim}
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) waitMessages(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for ts.session.Store().MessageCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d messages", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetConnection(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/connection", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status["state"] != "open" {
		t.Errorf("expected open, got %v", status["state"])
	}
}

func TestGetAgentsSeeded(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/agents", "")
	var body struct {
		Agents []struct {
			AgentID string `json:"agentId"`
			Status  string `json:"status"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Agents) != 2 || body.Agents[0].AgentID != "r1@bus" || body.Agents[0].Status != "OFF" {
		t.Errorf("unexpected agents %+v", body.Agents)
	}
}

func TestTimelineAndSelect(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.conn.Deliver(`{"type":"chat","id":"m2","from":"r2@bus/x","to":"r1@bus","body":"aGVsbG8=","timestamp":20,"conversation_id":"r2@bus/x-r1@bus"}`)
	ts.conn.Deliver(`{"type":"chat","id":"m1","from":"r1@bus","to":"r2@bus","body":"hello world","timestamp":10,"conversation_id":"r1@bus-r2@bus"}`)
	ts.waitMessages(t, 2)

	rec := ts.do(http.MethodGet, "/api/timeline", "")
	var view struct {
		Agents []string `json:"agents"`
		Sorted []struct {
			ID       string `json:"id"`
			Position int    `json:"position"`
			IsImage  bool   `json:"isImage"`
		} `json:"sorted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if strings.Join(view.Agents, ",") != "r2@bus,r1@bus" {
		t.Errorf("expected agents in first-appearance order, got %v", view.Agents)
	}
	if len(view.Sorted) != 2 || view.Sorted[0].ID != "m1" || view.Sorted[1].Position != 320 || !view.Sorted[1].IsImage {
		t.Errorf("unexpected sorted entries %+v", view.Sorted)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"image", `{"messageId":"m2"}`, http.StatusOK},
		{"text", `{"messageId":"m1"}`, http.StatusNotFound},
		{"unknown", `{"messageId":"nope"}`, http.StatusNotFound},
		{"outside click", `{}`, http.StatusOK},
		{"empty body", "", http.StatusOK},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(http.MethodPost, "/api/timeline/select", tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMapNotFoundUntilReceived(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(http.MethodGet, "/api/map", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any map, got %d", rec.Code)
	}

	ts.conn.Deliver(`{"type":"maze_plan","image":"aGVsbG8="}`)
	deadline := time.Now().Add(2 * time.Second)
	for ts.session.Store().Map().Empty() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec := ts.do(http.MethodGet, "/api/map", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after maze_plan, got %d", rec.Code)
	}
}

func TestGetTimers(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/timers", "")
	var d map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &d)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(d) == 0 {
		t.Error("expected timer display fields")
	}
}

func TestPenalties(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(http.MethodPost, "/api/penalties/r2@bus", "")
	rec := ts.do(http.MethodPost, "/api/penalties/r2@bus", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entry penalty.Entry
	json.Unmarshal(rec.Body.Bytes(), &entry)
	if entry.Score != 2 {
		t.Errorf("expected score 2, got %d", entry.Score)
	}

	rec = ts.do(http.MethodGet, "/api/penalties", "")
	var all []penalty.Entry
	json.Unmarshal(rec.Body.Bytes(), &all)
	if len(all) != 2 || all[1].Score != 2 {
		t.Errorf("unexpected penalties %+v", all)
	}
}

func TestBan(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(http.MethodPost, "/api/ban", `{"agent":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty agent, got %d", rec.Code)
	}

	rec := ts.do(http.MethodPost, "/api/ban", `{"agent":"r1@bus"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"banTimeoutMs":30000`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	if rec := ts.do(http.MethodPost, "/api/ban", `{"agent":"r1@bus"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 while suppressed, got %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/api/notifications", "")
	var list []notify.Notification
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Message != "r1@bus banned for 30s" {
		t.Fatalf("unexpected notifications %+v", list)
	}

	if rec := ts.do(http.MethodPost, "/api/notifications/"+list[0].ID+"/dismiss", ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/notifications/"+list[0].ID+"/dismiss", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second dismiss, got %d", rec.Code)
	}
}

func TestBanUpstreamError(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.bans.err = &client.BanError{StatusCode: http.StatusNotFound, Message: "agent not found"}

	rec := ts.do(http.MethodPost, "/api/ban", `{"agent":"ghost@bus"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agent not found") {
		t.Errorf("expected upstream message, got %s", rec.Body.String())
	}
}

func TestBanRequiresToken(t *testing.T) {
	reject := auth.NewWithKeyfunc(func(*jwt.Token) (interface{}, error) {
		return nil, errors.New("no keys")
	}, zerolog.Nop())
	ts := newTestServer(t, reject)

	if rec := ts.do(http.MethodPost, "/api/ban", `{"agent":"r1@bus"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/agents", ""); rec.Code != http.StatusOK {
		t.Errorf("expected read views to stay public, got %d", rec.Code)
	}
}

func TestFleetHealthDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(http.MethodGet, "/api/fleet/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without poller, got %d", rec.Code)
	}
}

func TestSimulatorControl(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(http.MethodPost, "/api/admin/sim/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := ts.do(http.MethodGet, "/api/admin/sim/status", "")
	var status client.SimulationStatus
	json.Unmarshal(rec.Body.Bytes(), &status)
	if !status.Running {
		t.Error("expected simulator to be running")
	}

	ts.sim.err = errors.New("connection refused")
	if rec := ts.do(http.MethodPost, "/api/admin/sim/stop", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}
