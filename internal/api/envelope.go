package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/inspecta/internal/checklist"
)

// Envelope is the body of every checklist operation response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// writeResult writes a checklist outcome. Some failures still carry a
// usable state (a resolved checklist whose template is missing); it is
// returned alongside the error.
func writeResult(w http.ResponseWriter, data any, err error) {
	if err == nil {
		writeOK(w, data)
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("checklist operation failed", "component", "api", "error", err)
	}
	env := Envelope{Success: false, Message: err.Error(), Kind: checklist.Kind(err)}
	if data != nil && !isNilState(data) {
		env.Data = data
	}
	writeJSON(w, status, env)
}

func isNilState(data any) bool {
	st, ok := data.(*checklist.State)
	return ok && st == nil
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, checklist.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checklist.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, checklist.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, checklist.ErrTemplateMissing):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}
