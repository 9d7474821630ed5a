// Package api holds the uniform response envelope shared by all handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hmapp/backend/internal/apperr"
)

// Envelope is the uniform shape of every mutating-operation response. Callers
// only inspect success and message to decide what to render.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// Fail maps err through the taxonomy: typed business errors keep their
// message and mapped status; anything else becomes a generic internal error.
func Fail(w http.ResponseWriter, err error, logger *slog.Logger) {
	var e *apperr.Error
	if errors.As(err, &e) {
		writeJSON(w, apperr.HTTPStatus(e.Code), Envelope{Success: false, Message: e.Message})
		return
	}
	if logger != nil {
		logger.Error("internal error", "error", err)
	}
	writeJSON(w, http.StatusInternalServerError, Envelope{Success: false, Message: "internal error"})
}

func FailCode(w http.ResponseWriter, code apperr.Code, message string) {
	writeJSON(w, apperr.HTTPStatus(code), Envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
