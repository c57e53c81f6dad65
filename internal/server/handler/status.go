package handler

import (
	"net/http"

	"github.com/alanyoungcy/stxbot/internal/bot"
)

// StatusSource reports the controller's current view.
type StatusSource interface {
	Status() bot.ControllerStatus
}

// StatusHandler serves the live bot status.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// GetStatus responds with the run phase, held order and loop counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status())
}
