package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"headwatch/internal/engine"
	"headwatch/internal/health"
	"headwatch/internal/registry"
)

// Handler exposes the health surface and the manual reload/sync triggers.
type Handler struct {
	Status     *health.Status
	Engine     *engine.Engine
	Registry   *registry.Registry
	Reload     func(ctx context.Context) error
	Sync       func(ctx context.Context) (registry.SyncStats, error)
	PutSetting func(ctx context.Context, key, value string) error
	Timeout    time.Duration
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/alerts", h.handleAlerts)
	r.Get("/headers", h.handleHeaders)
	r.Post("/reload", h.handleReload)
	r.Post("/sync", h.handleSync)
	r.Put("/settings/{key}", h.handlePutSetting)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.Status.Snapshot()
	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": h.Engine.RecentEvents(limit)})
}

func (h *Handler) handleHeaders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   h.Registry.Count(),
		"headers": h.Registry.Items(),
	})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Reload(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	stats, err := h.Sync(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

// handlePutSetting writes one settings row and reloads so the change takes
// effect without waiting for the periodic reload.
func (h *Handler) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing value"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.PutSetting(ctx, key, body.Value); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err := h.Reload(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
