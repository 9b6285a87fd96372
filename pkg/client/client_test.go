package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dij0s/eXPOSE/internal/types"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"redirect", http.StatusFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/status" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if tt.code == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
			err := NewClient(srv.URL, WithHTTPClient(hc)).Status(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Status() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewClient(url).Status(context.Background()); err == nil {
		t.Error("expected error for unreachable backend")
	}
}

func TestBanSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/ban" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var req types.BanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent != "robot1@prosody" {
			t.Errorf("unexpected body %+v (%v)", req, err)
		}
		json.NewEncoder(w).Encode(types.BanResponse{BanTimeout: 30000})
	}))
	defer srv.Close()

	timeout, err := NewClient(srv.URL+"/", WithToken("secret")).Ban(context.Background(), "robot1@prosody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timeout != 30*time.Second {
		t.Errorf("expected 30s, got %v", timeout)
	}
}

func TestBanFailure(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantMsg string
	}{
		{"error field", http.StatusForbidden, `{"error":"agent already banned"}`, "agent already banned"},
		{"plain body", http.StatusInternalServerError, "boom\n", "boom"},
		{"empty body", http.StatusUnauthorized, "", "Unauthorized"},
		{"2xx with error", http.StatusOK, `{"error":"cooldown"}`, "cooldown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Ban(context.Background(), "robot2@prosody")
			var banErr *BanError
			if !errors.As(err, &banErr) {
				t.Fatalf("expected BanError, got %v", err)
			}
			if banErr.Message != tt.wantMsg || banErr.StatusCode != tt.code {
				t.Errorf("got %+v, want message %q code %d", banErr, tt.wantMsg, tt.code)
			}
		})
	}
}

func TestControl(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/control/status":
			json.NewEncoder(w).Encode(SimulationStatus{Running: true, Agents: 3})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	status, err := c.SimulationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.Agents != 3 {
		t.Errorf("unexpected status %+v", status)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Health(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"POST /control/start", "GET /control/status", "POST /control/stop", "GET /health"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}
}
