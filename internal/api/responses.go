package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	app_errors "github.com/JoshBonura/ai-agent-playground-sub001/internal/errors"
)

// This file contains shared DTOs for API responses and helpers for sending
// consistent HTTP and SSE responses.

// ErrorResponse defines the standard JSON structure for error messages.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse defines a generic success response for operations that don't
// return a resource.
type StatusResponse struct {
	Status string `json:"status"`
}

// UpdateTitleRequest is the DTO for the manual chat title update endpoint.
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,min=1,max=100" example:"My Custom Chat Title"`
}

// respondWithError maps business-layer sentinel errors to HTTP status codes
// and writes a standard JSON error body. Unrecognized errors become a 500
// with a generic message so implementation details never leak to the client.
func respondWithError(w http.ResponseWriter, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, app_errors.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "The requested resource was not found."
	case errors.Is(err, app_errors.ErrValidation):
		statusCode = http.StatusBadRequest
		// Validation messages from the service layer are already
		// user-facing.
		message = err.Error()
	case errors.Is(err, app_errors.ErrConflict):
		statusCode = http.StatusConflict
		message = "A conflict occurred with the current state of the resource."
	default:
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal server error occurred."
	}

	slog.Warn("Responding with error", "status_code", statusCode, "client_message", message, "internal_error", err)

	respondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondWithJSON marshals a payload and writes it with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

// sendStreamError sends a structured error message over an SSE stream. The
// `event: error` line lets clients register a dedicated listener for it.
func sendStreamError(w http.ResponseWriter, message string) {
	slog.Warn("Sending stream error to client", "message", message)

	jsonData, err := json.Marshal(ErrorResponse{Error: message})
	if err != nil {
		slog.Error("Failed to marshal stream error payload", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: error\ndata: %s\n\n", string(jsonData)); err != nil {
		slog.Warn("Failed to write stream error, client might have disconnected", "error", err)
		return
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// writeStreamEvent marshals data and writes it as one SSE data frame. A write
// failure is the signal that the client has disconnected.
func writeStreamEvent(w http.ResponseWriter, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		// The stream is still healthy, the payload is not; log and move on.
		slog.Error("Failed to marshal stream data to JSON", "error", err)
		return nil
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", string(jsonData)); err != nil {
		return fmt.Errorf("failed to write data to stream: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
