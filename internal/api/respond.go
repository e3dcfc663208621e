package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"licensehub/internal/backup"
	"licensehub/internal/license"
	"licensehub/internal/logging"
	"licensehub/internal/validation"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var maxBytes *http.MaxBytesError
	var structErr *validation.StructError

	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &structErr):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, backup.ErrNotFound),
		errors.Is(err, license.ErrNotFound),
		errors.Is(err, license.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrInvalidFormat), errors.Is(err, backup.ErrCorrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backup.ErrValidationFailed), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, license.ErrInvalidTransition), errors.Is(err, license.ErrDeviceMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes err with its mapped status.
func writeError(w http.ResponseWriter, logger logging.Logger, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")
