package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/session"
	"github.com/matthewbaird/schemacanvas/internal/store"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON renders v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, ErrorResponse{Error: message, Code: code})
}

// errorToHTTP maps designer, session and backend errors to HTTP responses.
func (s *Server) errorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errors.Is(err, designer.ErrClosed) {
		writeError(w, r, http.StatusGone, "SESSION_CLOSED", err.Error())
		return
	}
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
		return
	}
	if errors.Is(err, store.ErrModelNotFound) || errors.Is(err, store.ErrFieldNotFound) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if se, ok := gateway.AsSyncError(err); ok {
		status := http.StatusBadGateway
		if se.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		writeError(w, r, status, "BACKEND_ERROR", se.Error())
		return
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}
