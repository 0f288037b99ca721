package ipc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tetherview/scadabridge/pkg/errors"
)

// parseIntDefault parses a positive integer query value, falling back to def.
func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error, deriving the HTTP status from
// the error code.
func respondError(w http.ResponseWriter, err error) {
	respondErrorStatus(w, statusForCode(errors.GetCode(err)), err)
}

// respondErrorStatus sends a structured JSON error with an explicit status.
func respondErrorStatus(w http.ResponseWriter, status int, err error) {
	response := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Code      string `json:"code,omitempty"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Error:     http.StatusText(status),
		Status:    status,
		Message:   "request failed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		response.Message = err.Error()
		response.Code = string(errors.GetCode(err))
		response.Retryable = errors.IsRetryable(err)
		if structured, ok := err.(*errors.Error); ok && structured.UserMessage != "" {
			response.Message = structured.UserMessage
		}
	}
	respondJSON(w, status, response)
}

func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnknownIdentifier, errors.ErrCodeUnknownPoint:
		return http.StatusNotFound
	case errors.ErrCodeDuplicateIdentifier, errors.ErrCodeNoPendingAction:
		return http.StatusConflict
	case errors.ErrCodeOutOfRange:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUpstreamUnavailable, errors.ErrCodeAuthFailed,
		errors.ErrCodeReadFailed, errors.ErrCodeWriteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
