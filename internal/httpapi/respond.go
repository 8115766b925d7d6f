package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/jobs"
	"alertbot/internal/storage"
)

// ErrorResponse is the shape of every API error.
type ErrorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}

// writeErr maps domain errors onto statuses.
func writeErr(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		var resp ErrorResponse
		resp.Error.Code = "INVALID"
		resp.Error.Message = "validation failed"
		resp.Error.Fields = verr.Fields
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, alerts.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, alerts.ErrInvalid):
		writeError(w, http.StatusBadRequest, "INVALID", err.Error())
	case errors.Is(err, broadcast.ErrDisabled):
		writeError(w, http.StatusConflict, "DISABLED", err.Error())
	case errors.Is(err, broadcast.ErrQuietHours):
		writeError(w, http.StatusConflict, "QUIET_HOURS", err.Error())
	case errors.Is(err, broadcast.ErrWeeklyCap):
		writeError(w, http.StatusConflict, "WEEKLY_CAP", err.Error())
	case errors.Is(err, storage.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "storage unavailable, try again")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
