package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// AuditHandler serves the audit trail of detection config changes and
// archive runs.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger.With(slog.String("handler", "audit"))}
}

// List returns audit entries, newest first.
// GET /api/audit?limit=&offset=&since=&until=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("list audit failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"limit":   opts.Limit,
		"offset":  opts.Offset,
		"entries": entries,
	})
}
