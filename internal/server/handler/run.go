package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// RunHandler serves the journal of past runs.
type RunHandler struct {
	runs   domain.RunStore
	orders domain.OrderStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runs domain.RunStore, orders domain.OrderStore, audit domain.AuditStore, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		orders: orders,
		audit:  audit,
		logger: logger.With(slog.String("handler", "runs")),
	}
}

// GetRun returns a run with its orders.
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get run", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	orders, err := h.orders.ListByRun(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list run orders", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load orders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":    run,
		"orders": orders,
	})
}

// ListAudit returns a run's audit trail.
// GET /api/runs/{id}/audit?limit=&offset=
func (h *RunHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
