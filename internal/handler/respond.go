package handler

import (
	"encoding/json"
	"net/http"

	appErr "github.com/campuskit/broadcast/internal/errors"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the service error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is an internal error and hides its detail from the
// client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case appErr.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case appErr.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case appErr.IsForbidden(err):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case appErr.IsRateLimited(err):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
