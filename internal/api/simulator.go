package api

import (
	"context"
	"net/http"

	"github.com/dij0s/eXPOSE/pkg/client"
	"github.com/rs/zerolog"
)

// SimControl is the simulator control API
type SimControl interface {
	SimulationStatus(ctx context.Context) (*client.SimulationStatus, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SimulatorHandler relays admin requests to the fleet simulator
type SimulatorHandler struct {
	control SimControl
	logger  zerolog.Logger
}

// NewSimulatorHandler creates a new SimulatorHandler
func NewSimulatorHandler(control SimControl, logger zerolog.Logger) *SimulatorHandler {
	return &SimulatorHandler{
		control: control,
		logger:  logger.With().Str("component", "simulator_api").Logger(),
	}
}

// GetStatus handles GET /api/admin/sim/status
func (h *SimulatorHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.control.SimulationStatus(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to reach simulator")
		writeError(w, http.StatusBadGateway, "simulator unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Start handles POST /api/admin/sim/start
func (h *SimulatorHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, "started", h.control.Start)
}

// Stop handles POST /api/admin/sim/stop
func (h *SimulatorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, "stopped", h.control.Stop)
}

func (h *SimulatorHandler) relay(w http.ResponseWriter, r *http.Request, outcome string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("simulator control failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.logger.Info().Str("status", outcome).Msg("simulator control relayed")
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}
