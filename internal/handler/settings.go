package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/desklet/internal/engine"
	"github.com/dukerupert/desklet/internal/model"
)

type SettingsHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewSettingsHandler(e *engine.Engine, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{engine: e, logger: logger}
}

type settingsRequest struct {
	Categories    map[model.Category]bool `json:"categories"`
	NativeEnabled *bool                   `json:"native_enabled"`
	InAppEnabled  *bool                   `json:"in_app_enabled"`
	SoundEnabled  *bool                   `json:"sound_enabled"`
	NudgesEnabled *bool                   `json:"nudges_enabled"`
	MaxRetained   *int                    `json:"max_retained" validate:"omitempty,min=1,max=1000"`
}

// Get handles GET /api/settings/notifications
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Settings())
}

// Update handles PUT /api/settings/notifications
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.engine.UpdateSettings(r.Context(), model.SettingsPatch{
		Categories:    req.Categories,
		NativeEnabled: req.NativeEnabled,
		InAppEnabled:  req.InAppEnabled,
		SoundEnabled:  req.SoundEnabled,
		NudgesEnabled: req.NudgesEnabled,
		MaxRetained:   req.MaxRetained,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
