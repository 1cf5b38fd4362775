package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/goccy/go-json"

	"outbound-router/internal/common/errors"
	"outbound-router/internal/factory"
)

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

func (h *Handlers) sendMessage(w http.ResponseWriter, status int, msg string) {
	h.sendJSONResponse(w, status, errorResponse{Error: msg})
}

// sendError maps an AppError type to its HTTP status.
func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		h.logger.Error("Unclassified admin API error", err)
		h.sendMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := statusFor(appErr.Type)
	if appErr.Code == factory.CodeFactoryClosed {
		status = http.StatusServiceUnavailable
	}
	msg := appErr.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Admin API request failed", err)
		msg = "Internal server error"
	}
	h.sendJSONResponse(w, status, errorResponse{
		Error: msg,
		Type:  string(appErr.Type),
		Code:  appErr.Code,
		Field: appErr.Field,
	})
}

func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrTypeConfig, errors.ErrTypeValidation, errors.ErrTypeRouting:
		return http.StatusBadRequest
	case errors.ErrTypeResource:
		return http.StatusUnprocessableEntity
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
