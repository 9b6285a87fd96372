package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dij0s/eXPOSE/internal/config"
	"github.com/dij0s/eXPOSE/internal/transport"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "expose" {
		t.Errorf("expected service expose, got %s", response["service"])
	}
}

func TestHealthHandlerMethods(t *testing.T) {
	tests := []struct {
		method         string
		expectedStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusOK},    // Handler doesn't check method
		{http.MethodOptions, http.StatusOK}, // Handler doesn't check method
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			rec := httptest.NewRecorder()

			healthHandler(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}

func TestNewDialer(t *testing.T) {
	cfg := &config.Config{
		StreamTransport: config.TransportWebSocket,
		StreamHost:      "fleet.local",
		StreamPort:      "3000",
		StreamPath:      "/ws",
		MQTTBroker:      "tcp://broker:1883",
		MQTTTopic:       "expose/events",
	}

	d, err := newDialer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*transport.WebSocketDialer); !ok {
		t.Errorf("expected websocket dialer, got %T", d)
	}
	if d.Endpoint() != "ws://fleet.local:3000/ws" {
		t.Errorf("unexpected endpoint %s", d.Endpoint())
	}

	cfg.StreamTransport = config.TransportMQTT
	d, err = newDialer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	mq, ok := d.(*transport.MQTTDialer)
	if !ok {
		t.Fatalf("expected mqtt dialer, got %T", d)
	}
	if !strings.HasPrefix(mq.ClientID, "expose-") {
		t.Errorf("unexpected client id %s", mq.ClientID)
	}

	cfg.StreamTransport = "carrier-pigeon"
	if _, err := newDialer(cfg); err == nil {
		t.Error("expected error for unknown transport")
	}
}
