package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"coliblanco-backend/internal/middleware"
	"coliblanco-backend/internal/models"
	"coliblanco-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeRawJSON forwards an upstream JSON body untouched.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return errorRespWithFields(code, message, nil, r)
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	requestID := middleware.GetRequestID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-ID")
	}
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: requestID,
		},
	}
}

// handleServiceError maps service errors to HTTP responses. upstreamCode is
// the error code reported when OpenAI or Gemini fails. Context errors are
// checked first since UpstreamError wraps them.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, upstreamCode string) {
	var validationErr *services.ValidationError
	var upstreamErr *services.UpstreamError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationErr.Fields, r))
	case errors.Is(err, services.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("NOT_CONFIGURED", "OpenAI API key is not configured", r))
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is listening for a body.
		slog.Debug("request cancelled", "path", r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResp("UPSTREAM_TIMEOUT", "Upstream request timed out", r))
	case errors.As(err, &upstreamErr):
		slog.Warn("upstream call failed", "op", upstreamErr.Op, "status", upstreamErr.StatusCode, "error", upstreamErr.Message)
		writeJSON(w, http.StatusBadGateway, errorResp(upstreamCode, upstreamErr.Error(), r))
	default:
		slog.Error("unexpected error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
