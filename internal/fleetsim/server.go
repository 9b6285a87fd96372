package fleetsim

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ClientCounter reports how many dashboards are subscribed
type ClientCounter interface {
	ClientCount() int
}

// Server exposes the simulated fleet backend and its control API
type Server struct {
	ctx     context.Context
	sim     *Simulator
	clients ClientCounter
	stream  http.Handler
	token   string
	logger  zerolog.Logger
}

// NewServer creates a new Server. Missions started through the control API
// run until ctx ends. stream serves /ws; an empty token disables the bearer
// check on /api/ban.
func NewServer(ctx context.Context, sim *Simulator, clients ClientCounter, stream http.Handler, token string, logger zerolog.Logger) *Server {
	return &Server{
		ctx:     ctx,
		sim:     sim,
		clients: clients,
		stream:  stream,
		token:   token,
		logger:  logger.With().Str("component", "fleetsim_api").Logger(),
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Fleet backend
	router.Handle("/ws", s.stream).Methods("GET")
	router.HandleFunc("/api/status", s.apiStatusHandler).Methods("GET")
	router.HandleFunc("/api/ban", s.banHandler).Methods("POST")

	// Simulation control
	control := router.PathPrefix("/control").Subrouter()
	control.HandleFunc("/status", s.statusHandler).Methods("GET")
	control.HandleFunc("/start", s.startHandler).Methods("POST")
	control.HandleFunc("/stop", s.stopHandler).Methods("POST")
	control.HandleFunc("/step", s.stepHandler).Methods("POST")
	control.HandleFunc("/robots", s.robotsHandler).Methods("GET")
}

// Router returns a router with every route installed
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	s.SetupRoutes(router)
	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// healthHandler returns service health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// apiStatusHandler is the endpoint dashboards poll for fleet health
func (s *Server) apiStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.sim.Status().Running,
	})
}

// banHandler switches an agent off for the ban timeout
func (s *Server) banHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, types.BanResponse{Error: "invalid token"})
		return
	}

	var req types.BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		writeJSON(w, http.StatusBadRequest, types.BanResponse{Error: "agent is required"})
		return
	}

	timeout, err := s.sim.Ban(req.Agent)
	switch {
	case errors.Is(err, ErrUnknownAgent):
		writeJSON(w, http.StatusNotFound, types.BanResponse{Error: err.Error()})
	case errors.Is(err, ErrAlreadyBanned):
		writeJSON(w, http.StatusConflict, types.BanResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, types.BanResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, types.BanResponse{BanTimeout: timeout.Milliseconds()})
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

type statusResponse struct {
	Running       bool   `json:"running"`
	Agents        int    `json:"agents"`
	Step          int    `json:"step"`
	ActiveClients int    `json:"activeClients"`
	EventsSent    int64  `json:"eventsSent"`
	Uptime        string `json:"uptime,omitempty"`
}

// statusHandler returns current simulation status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := s.sim.Status()
	resp := statusResponse{
		Running:       st.Running,
		Agents:        st.Agents,
		Step:          st.Step,
		ActiveClients: s.clients.ClientCount(),
		EventsSent:    st.EventsSent,
	}
	if st.StartedAt != nil {
		resp.Uptime = s.sim.clock.Now().Sub(*st.StartedAt).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// startHandler starts a mission
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.Start(s.ctx); err != nil {
		if errors.Is(err, ErrRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Error().Err(err).Msg("failed to start simulation")
		http.Error(w, "failed to start simulation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "simulation started"})
}

// stopHandler stops the mission
func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "simulation stopped"})
}

// stepHandler advances the mission by one step
func (s *Server) stepHandler(w http.ResponseWriter, r *http.Request) {
	if !s.sim.Status().Running {
		http.Error(w, ErrNotRunning.Error(), http.StatusConflict)
		return
	}
	s.sim.Step()
	writeJSON(w, http.StatusOK, s.sim.Status())
}

// robotsHandler lists the simulated robots
func (s *Server) robotsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Robots())
}
