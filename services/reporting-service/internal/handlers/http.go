package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/SamuelAtedla/heartcare/libs/auth"
	"github.com/SamuelAtedla/heartcare/services/reporting-service/internal/metrics"
)

type ReportHandler struct {
	repo   *metrics.Repository
	logger *slog.Logger
}

func NewReportHandler(repo *metrics.Repository, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{repo: repo, logger: logger}
}

// Daily serves GET /api/v1/admin/reports/daily?from=&to= (admin only).
func (h *ReportHandler) Daily(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role") != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	days, err := h.repo.Range(r.Context(), from, to)
	if err != nil {
		h.logger.Error("daily report query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not load report")
		return
	}
	if days == nil {
		days = []metrics.Daily{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
