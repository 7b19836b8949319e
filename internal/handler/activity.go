package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dukerupert/desklet/internal/engine"
	"github.com/dukerupert/desklet/internal/model"
)

const focusCacheKey = "focus"

// ActivityHandler records activity and serves the focus report. Reports are
// cached briefly because dashboards poll them.
type ActivityHandler struct {
	engine *engine.Engine
	cache  *cache.Cache
	logger *slog.Logger
}

func NewActivityHandler(e *engine.Engine, ttl time.Duration, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		engine: e,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

type activityRequest struct {
	Category model.ActivityCategory `json:"category" validate:"required,oneof=timer note todo media"`
	Amount   float64                `json:"amount" validate:"gte=0"`
}

// Track handles POST /api/activity
func (h *ActivityHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.TrackActivity(r.Context(), req.Category, req.Amount); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Delete(focusCacheKey)
	w.WriteHeader(http.StatusNoContent)
}

// Interaction handles POST /api/activity/interaction
func (h *ActivityHandler) Interaction(w http.ResponseWriter, r *http.Request) {
	h.engine.Interaction(r.Context())
	h.cache.Delete(focusCacheKey)
	w.WriteHeader(http.StatusNoContent)
}

// Focus handles GET /api/focus
func (h *ActivityHandler) Focus(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.Get(focusCacheKey); ok {
		writeJSON(w, http.StatusOK, cached.(model.FocusReport))
		return
	}
	report := h.engine.FocusReport()
	h.cache.SetDefault(focusCacheKey, report)
	writeJSON(w, http.StatusOK, report)
}
