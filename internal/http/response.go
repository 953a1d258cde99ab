package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	applog "financas/internal/log"
	"financas/internal/ports"
	"financas/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

// badRequest marks malformed input the service never saw.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var bad badRequest
	var verr *services.ValidationError
	switch {
	case errors.As(err, &bad), errors.Is(err, services.ErrInvalidFilters):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err to w. Internal errors are logged and hidden from callers.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		s.errs.LogError(r.Context(), "Request failed", err, applog.ErrorTypeInternal, op,
			applog.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, ""))
		writeError(w, status, "internal error")
	case http.StatusNotFound:
		writeError(w, status, "not found")
	default:
		writeError(w, status, err.Error())
	}
}
