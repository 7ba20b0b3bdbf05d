package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/manipulation"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

// maxConfigBody bounds a PUT /api/detection payload.
const maxConfigBody = 64 << 10

// DetectionConfig is the live threshold set the handler reads and replaces.
type DetectionConfig interface {
	Current() manipulation.Thresholds
	Update(next manipulation.Thresholds) (manipulation.Thresholds, error)
}

// DetectionHandler exposes the detection thresholds over HTTP.
type DetectionHandler struct {
	cfg     DetectionConfig
	audit   domain.AuditStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDetectionHandler wires the handler; audit and m may be nil.
func NewDetectionHandler(cfg DetectionConfig, audit domain.AuditStore, m *metrics.Metrics, logger *slog.Logger) *DetectionHandler {
	return &DetectionHandler{
		cfg:     cfg,
		audit:   audit,
		metrics: m,
		logger:  logger.With(slog.String("handler", "detection")),
	}
}

// GetConfig returns the thresholds in effect, including their version.
// GET /api/detection
func (h *DetectionHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Current())
}

// UpdateConfig applies a full or partial threshold update. Fields missing
// from the body keep their current values. The update is validated as a
// whole: a rejected update leaves the thresholds in effect untouched.
// PUT /api/detection
func (h *DetectionHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	cur := h.cfg.Current()
	next := cur

	dec := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		h.record(r, "rejected", cur.Version, err)
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	applied, err := h.cfg.Update(next)
	if err != nil {
		h.record(r, "rejected", applied.Version, err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.logger.Info("detection thresholds updated",
		slog.Uint64("from_version", cur.Version),
		slog.Uint64("version", applied.Version),
		slog.String("remote_addr", r.RemoteAddr),
	)
	h.record(r, "applied", applied.Version, nil)
	writeJSON(w, http.StatusOK, applied)
}

func (h *DetectionHandler) record(r *http.Request, result string, version uint64, err error) {
	if h.metrics != nil {
		h.metrics.ConfigReloads.WithLabelValues("api", result).Inc()
	}
	if err != nil {
		h.logger.Warn("detection update rejected", slog.String("error", err.Error()))
	}
	if h.audit == nil {
		return
	}
	detail := map[string]any{
		"source":      "api",
		"version":     version,
		"remote_addr": r.RemoteAddr,
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	if aerr := h.audit.Log(r.Context(), "detection."+result, detail); aerr != nil {
		h.logger.Error("audit log failed", slog.String("error", aerr.Error()))
	}
}
