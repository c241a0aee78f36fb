// Package handler contains the HTTP handlers of the API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (query params, JSON body, the caller from context)
//  2. Call one service method
//  3. Write the response through the helpers below
//
// Handlers hold no business rules; a handler that needs an if-statement
// about ownership or visibility is calling the wrong service method.
package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeSuccess / writeError so the
// API has exactly two body shapes:
//
//	success: {"success": true, "data": ..., "message": "..."}
//	error:   {"error": "not_found", "message": "Strategy not found", "details": [...]}
//
// writeError is the only place that turns a domain error into an HTTP status.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/auth"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string                `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string                `json:"message"` // Human-readable description
	Details []apperror.FieldError `json:"details,omitempty"`
}

// successResponse is the envelope for 2xx JSON bodies. Data is an interface,
// so an empty list is still written as [].
type successResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeJSON sends a JSON response with the given status code. Headers must
// be set before WriteHeader; anything set after it is silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, successResponse{Success: true, Data: data, Message: message})
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.Is walks the whole chain, so a service that wraps an AppError with
// fmt.Errorf("...: %w", err) still maps correctly. Errors that are not
// AppErrors become a generic 500; their text may contain SQL or file paths
// and is never sent to the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, errorType := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrBadRequest):
		status, errorType = http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrRateLimited):
		status, errorType = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, apperror.ErrConfig):
		status, errorType = http.StatusInternalServerError, "not_configured"
	case errors.Is(err, apperror.ErrUpstream):
		status, errorType = http.StatusInternalServerError, "upstream_error"
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// decodeJSON reads a JSON body into dst. Malformed or oversized bodies come
// back as a 400 validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "Request body is required")
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// callerID is the authenticated user, or "" on an anonymous request.
func callerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
