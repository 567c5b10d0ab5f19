package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/secretmarket/internal/service"
)

// Sweeper runs one reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// AdminHandler serves operator endpoints. Routes are wrapped in
// middleware.Auth by the server.
type AdminHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(sweeper Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, logger: logger}
}

// Reconcile runs a sweep synchronously and returns its report.
// POST /api/admin/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if report.Missing == nil {
		report.Missing = []string{}
	}
	writeJSON(w, http.StatusOK, report)
}
