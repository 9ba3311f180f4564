package web

// errors.go provides unified error response handling for the API.
//
// All errors are logged with full technical detail server-side and
// returned to clients as a JSON body with a stable machine-readable code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/c1767673917/products-b-test-sub004/internal/source"
	"github.com/c1767673917/products-b-test-sub004/internal/store"
	"github.com/c1767673917/products-b-test-sub004/internal/syncer"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error and writes a sanitized JSON body.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	message, code := mapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

// mapError translates internal errors into client-safe messages with
// stable codes. Unknown errors get a generic message so internals never
// leak to clients.
func mapError(err error) (message, code string) {
	switch {
	case errors.Is(err, syncer.ErrRunBusy):
		return "a sync run is already in progress; wait for it to finish or cancel it", "SYNC_BUSY"
	case errors.Is(err, syncer.ErrRunNotFound):
		return "sync run not found; it may have expired", "SYNC_NOT_FOUND"
	case errors.Is(err, store.ErrNotFound):
		return "product not found", "PRODUCT_NOT_FOUND"
	case errors.Is(err, source.ErrUnavailable):
		return "the record source is unavailable; try again later", "SOURCE_UNAVAILABLE"
	case errors.Is(err, errRateLimited):
		return "rate limit exceeded; slow down", "RATE_LIMITED"
	}
	return "internal error", "INTERNAL"
}

// statusFor picks the HTTP status matching a mapped error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, syncer.ErrRunBusy):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrRunNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
