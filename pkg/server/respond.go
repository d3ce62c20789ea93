package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cortexmem/cortex/pkg/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy to HTTP semantics: validation 400,
// upstream 502, fatal 503, invariant and unknown 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		ve *model.ValidationError
		ue *model.UpstreamError
		fe *model.FatalError
	)
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error()})
	case errors.As(err, &ue):
		s.logger.Warn("upstream failure surfaced", "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: ue.Error()})
	case errors.As(err, &fe):
		s.logger.Error("fatal store error", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: fe.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) notFound(w http.ResponseWriter, what string) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: what + " not found"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
