package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dij0s/eXPOSE/internal/session"
	"github.com/dij0s/eXPOSE/internal/timeline"
	"github.com/rs/zerolog"
)

// DashboardHandler exposes the reconstructed state of a session
type DashboardHandler struct {
	session *session.Session
	logger  zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(s *session.Session, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		session: s,
		logger:  logger.With().Str("component", "dashboard_api").Logger(),
	}
}

// GetConnection handles GET /api/connection
func (h *DashboardHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// Reconnect handles POST /api/connection/reconnect
func (h *DashboardHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.session.Reconnect()
	writeJSON(w, http.StatusAccepted, h.session.Status())
}

// GetAgents handles GET /api/agents
func (h *DashboardHandler) GetAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Aggregator().Agents())
}

// GetTimeline handles GET /api/timeline
func (h *DashboardHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Timeline().View())
}

// GetTimers handles GET /api/timers
func (h *DashboardHandler) GetTimers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Ticker().Now())
}

// GetMap handles GET /api/map
func (h *DashboardHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	view := h.session.Aggregator().Map()
	if view.Empty() {
		writeError(w, http.StatusNotFound, "no map received yet")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type selectRequest struct {
	MessageID string `json:"messageId"`
}

// Select handles POST /api/timeline/select. An empty messageId is a click
// outside the image and clears the selection.
func (h *DashboardHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.MessageID == "" {
		h.session.ClickOutside()
		writeJSON(w, http.StatusOK, map[string]string{"selected": ""})
		return
	}

	if err := h.session.Select(req.MessageID); err != nil {
		if errors.Is(err, timeline.ErrNotAttachment) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Debug().Str("message_id", req.MessageID).Msg("attachment selected")
	writeJSON(w, http.StatusOK, map[string]string{"selected": req.MessageID})
}
