package server

import (
	"net/http"
)

type lifecycleRunRequest struct {
	DryRun bool `json:"dry_run,omitempty"`
}

func (s *Server) handleLifecycleRun(w http.ResponseWriter, r *http.Request) {
	var in lifecycleRunRequest
	if r.ContentLength > 0 {
		if !s.decode(w, r, &in) {
			return
		}
	}

	s.writeJSON(w, http.StatusOK, s.engine.Run(r.Context(), in.DryRun))
}

// handleLifecyclePreview is a dry run: same report, no writes.
func (s *Server) handleLifecyclePreview(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Run(r.Context(), true))
}
