// Package handler exposes the desklet engine over a JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/desklet/internal/activity"
	"github.com/dukerupert/desklet/internal/notify"
)

var validate = newValidator()

var validationMessages = map[string]string{
	"required": "field is required",
	"oneof":    "value is not allowed",
	"max":      "value is too long",
	"gt":       "value must be positive",
	"gte":      "value must not be negative",
	"min":      "value is too small",
	"url":      "value must be a URL",
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure the error
// response has already been written.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return false
		}
		out := make([]ValidationError, 0, len(verrs))
		for _, e := range verrs {
			msg := validationMessages[e.Tag()]
			if msg == "" {
				msg = e.Error()
			}
			out = append(out, ValidationError{Field: e.Field(), Message: msg})
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "errors": out})
		return false
	}
	return true
}

// writeError maps engine errors onto status codes.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "notification not found"})
	case errors.Is(err, notify.ErrInvalidInput),
		errors.Is(err, activity.ErrUnknownCategory),
		errors.Is(err, activity.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, notify.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, notify.ErrStoreFull):
		writeJSON(w, http.StatusInsufficientStorage, map[string]string{"error": err.Error()})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
