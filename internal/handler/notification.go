package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/desklet/internal/engine"
	"github.com/dukerupert/desklet/internal/model"
)

type NotificationHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewNotificationHandler(e *engine.Engine, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{engine: e, logger: logger}
}

type createNotificationRequest struct {
	Category      model.Category `json:"category" validate:"required,oneof=reminder timer insight external_suggestion"`
	Title         string         `json:"title" validate:"required,max=200"`
	Message       string         `json:"message" validate:"max=2000"`
	ScheduledAt   time.Time      `json:"scheduled_at" validate:"required"`
	Priority      model.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	SoundEnabled  bool           `json:"sound_enabled"`
	RepeatMinutes int            `json:"repeat_minutes" validate:"gte=0"`
	Payload       map[string]any `json:"payload"`
}

// Create handles POST /api/notifications
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decode(w, r, &req) {
		return
	}

	in := model.NotificationInput{
		Category:     req.Category,
		Title:        req.Title,
		Message:      req.Message,
		ScheduledAt:  req.ScheduledAt,
		Priority:     req.Priority,
		SoundEnabled: req.SoundEnabled,
		Payload:      req.Payload,
	}
	if req.RepeatMinutes > 0 {
		in.Repeat = &model.Repeat{IntervalMinutes: req.RepeatMinutes}
	}

	n, err := h.engine.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type reminderRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	DueAt       time.Time `json:"due_at" validate:"required"`
	LeadMinutes int       `json:"lead_minutes" validate:"gte=0"`
}

// CreateReminder handles POST /api/reminders
func (h *NotificationHandler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.engine.ScheduleReminder(r.Context(), req.Title, req.DueAt, req.LeadMinutes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type repeatingAlertRequest struct {
	Title           string         `json:"title" validate:"required,max=200"`
	Message         string         `json:"message" validate:"max=2000"`
	FirstAt         time.Time      `json:"first_at" validate:"required"`
	IntervalMinutes int            `json:"interval_minutes" validate:"gt=0"`
	Category        model.Category `json:"category" validate:"omitempty,oneof=reminder timer insight external_suggestion"`
}

// CreateRepeatingAlert handles POST /api/alerts/repeating
func (h *NotificationHandler) CreateRepeatingAlert(w http.ResponseWriter, r *http.Request) {
	var req repeatingAlertRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.engine.ScheduleRepeatingAlert(r.Context(), req.Title, req.Message, req.FirstAt, req.IntervalMinutes, req.Category)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type insightRequest struct {
	Message      string         `json:"message" validate:"required,max=2000"`
	Priority     model.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	DelayMinutes int            `json:"delay_minutes" validate:"gte=0"`
}

// CreateInsight handles POST /api/insights
func (h *NotificationHandler) CreateInsight(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.engine.ScheduleInsight(r.Context(), req.Message, req.Priority, req.DelayMinutes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// List handles GET /api/notifications?category=&status=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := model.NotificationFilter{
		Category: model.Category(r.URL.Query().Get("category")),
		Status:   model.Status(r.URL.Query().Get("status")),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category"})
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	list := h.engine.List(filter)
	if list == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /api/notifications/{id}
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type snoozeRequest struct {
	Minutes int `json:"minutes" validate:"gt=0"`
}

// Snooze handles POST /api/notifications/{id}/snooze
func (h *NotificationHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.engine.Snooze(r.Context(), r.PathValue("id"), req.Minutes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Dismiss handles POST /api/notifications/{id}/dismiss
func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Dismiss(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
