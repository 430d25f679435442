package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Dan9191/bank-cards/internal/service"
)

type errorResponse struct {
	Error     string    `json:"error"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Status: status, Timestamp: time.Now().UTC()})
}

// statusFor maps service errors to HTTP statuses. Anything unknown, codec
// failures included, is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrOwnerNotFound),
		errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAccessDenied),
		errors.Is(err, service.ErrUnauthorizedAccess):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSameCard),
		errors.Is(err, service.ErrSameAccount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrCardInactive),
		errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
