package web

// errors.go maps pipeline errors onto HTTP responses. Technical detail is
// logged server-side with the request id; clients get a stable JSON shape.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mkarlsen/gamelog/internal/importer"
	"github.com/mkarlsen/gamelog/internal/logging"
	"github.com/mkarlsen/gamelog/internal/parser"
	"github.com/mkarlsen/gamelog/internal/store"
)

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError classifies err, logs it, and writes the mapped response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: code})
}

// classify maps the pipeline's error taxonomy to status codes.
func classify(err error) (int, string) {
	var parseErr *parser.ParseError
	var conflictErr *store.ConflictError

	switch {
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "parse_error"
	case errors.As(err, &conflictErr):
		return http.StatusConflict, "session_conflict"
	case errors.Is(err, importer.ErrNoActiveSession):
		return http.StatusNotFound, "no_active_session"
	case errors.Is(err, importer.ErrStalePrompt):
		return http.StatusConflict, "stale_prompt"
	case errors.Is(err, importer.ErrInvalidChoice):
		return http.StatusBadRequest, "invalid_choice"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError writes a plain JSON error with an explicit status, for cases
// that never touch the pipeline (bad requests, rate limits).
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"path", r.URL.Path,
		"status", status,
		"reason", message,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: "bad_request"})
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
