package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// AssessmentReader is the read side of the assessment service.
type AssessmentReader interface {
	Latest(ctx context.Context, symbol string) (domain.Assessment, error)
	LatestAll() []domain.Assessment
	Symbols(ctx context.Context) ([]string, error)
	History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Assessment, error)
}

// AssessmentHandler serves last-known and historical assessments.
type AssessmentHandler struct {
	svc    AssessmentReader
	logger *slog.Logger
}

func NewAssessmentHandler(svc AssessmentReader, logger *slog.Logger) *AssessmentHandler {
	return &AssessmentHandler{svc: svc, logger: logger.With(slog.String("handler", "assessments"))}
}

// ListLatest returns the last-known assessment of every symbol seen by this
// process together with the symbols known to the shared cache.
// GET /api/assessments
func (h *AssessmentHandler) ListLatest(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.svc.Symbols(r.Context())
	if err != nil {
		h.logger.Error("list symbols failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	latest := h.svc.LatestAll()
	if latest == nil {
		latest = []domain.Assessment{}
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols":     symbols,
		"assessments": latest,
	})
}

// GetLatest returns the last-known assessment for one symbol.
// GET /api/assessments/{symbol}
func (h *AssessmentHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	a, err := h.svc.Latest(r.Context(), symbol)
	if err != nil {
		h.fail(w, "get latest", symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// History lists persisted assessments for one symbol, newest first.
// GET /api/assessments/{symbol}/history?limit=&offset=&since=&until=
func (h *AssessmentHandler) History(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.History(r.Context(), symbol, opts)
	if err != nil {
		h.fail(w, "history", symbol, err)
		return
	}
	if items == nil {
		items = []domain.Assessment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":      symbol,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
		"assessments": items,
	})
}

func (h *AssessmentHandler) fail(w http.ResponseWriter, op, symbol string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}
