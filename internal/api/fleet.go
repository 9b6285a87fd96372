package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dij0s/eXPOSE/internal/health"
	"github.com/dij0s/eXPOSE/internal/notify"
	"github.com/dij0s/eXPOSE/internal/penalty"
	"github.com/dij0s/eXPOSE/pkg/client"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// FleetHandler serves the operator actions against the fleet
type FleetHandler struct {
	penalties *penalty.Counter
	banner    *penalty.Banner
	notices   *notify.Center
	poller    *health.Poller
	logger    zerolog.Logger
}

// NewFleetHandler creates a new FleetHandler. poller may be nil.
func NewFleetHandler(penalties *penalty.Counter, banner *penalty.Banner, notices *notify.Center, poller *health.Poller, logger zerolog.Logger) *FleetHandler {
	return &FleetHandler{
		penalties: penalties,
		banner:    banner,
		notices:   notices,
		poller:    poller,
		logger:    logger.With().Str("component", "fleet_api").Logger(),
	}
}

// ListPenalties handles GET /api/penalties
func (h *FleetHandler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.penalties.All())
}

// AddPenalty handles POST /api/penalties/{agent}
func (h *FleetHandler) AddPenalty(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}

	score, err := h.penalties.Increment(agent)
	if err != nil {
		h.logger.Error().Err(err).Str("agent", agent).Msg("failed to add penalty")
		writeError(w, http.StatusInternalServerError, "failed to persist penalty")
		return
	}
	writeJSON(w, http.StatusOK, penalty.Entry{Agent: agent, Score: score})
}

type banRequest struct {
	Agent string `json:"agent"`
}

type banResponse struct {
	Agent        string `json:"agent"`
	BanTimeoutMs int64  `json:"banTimeoutMs"`
	Message      string `json:"message,omitempty"`
}

// Ban handles POST /api/ban
func (h *FleetHandler) Ban(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Agent = strings.TrimSpace(req.Agent)
	if req.Agent == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}

	timeout, err := h.banner.Ban(r.Context(), req.Agent)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, banResponse{
			Agent:        req.Agent,
			BanTimeoutMs: timeout.Milliseconds(),
			Message:      req.Agent + " banned for " + notify.FormatDuration(timeout),
		})
	case errors.Is(err, penalty.ErrSuppressed):
		writeJSON(w, http.StatusTooManyRequests, banResponse{
			Agent:        req.Agent,
			BanTimeoutMs: timeout.Milliseconds(),
			Message:      err.Error(),
		})
	default:
		var banErr *client.BanError
		if errors.As(err, &banErr) {
			writeError(w, http.StatusBadGateway, banErr.Message)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// ListNotifications handles GET /api/notifications
func (h *FleetHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.notices.List())
}

// DismissNotification handles POST /api/notifications/{id}/dismiss
func (h *FleetHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	if !h.notices.Dismiss(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFleetHealth handles GET /api/fleet/health
func (h *FleetHandler) GetFleetHealth(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "health polling disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.poller.Report())
}
