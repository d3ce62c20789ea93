package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if agents == nil {
		agents = []*model.Agent{}
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var a model.Agent
	if !s.decode(w, r, &a) {
		return
	}

	created, err := s.store.CreateAgent(r.Context(), &a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if a == nil {
		s.notFound(w, "agent")
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

type agentPatch struct {
	Name   *string        `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var p agentPatch
	if !s.decode(w, r, &p) {
		return
	}

	a, err := s.store.UpdateAgent(r.Context(), chi.URLParam(r, "id"), store.AgentUpdate{
		Name:   p.Name,
		Config: p.Config,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if a == nil {
		s.notFound(w, "agent")
		return
	}

	mems, err := s.store.List(r.Context(), store.ListFilter{AgentID: id, IncludeSuperseded: true})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteAgent(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	ids := make([]string, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
	}
	if len(ids) > 0 {
		if err := s.vectors.Delete(r.Context(), ids...); err != nil {
			s.logger.Warn("vector cleanup after agent delete failed", "agent_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAgentConfig returns the effective per-agent configuration: the
// server's gate, search and sieve sections overlaid with the agent's own
// config keys.
func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if a == nil {
		s.notFound(w, "agent")
		return
	}

	s.cfgMu.RLock()
	base := map[string]any{
		"gate":   sectionMap(s.cfg.Gate),
		"search": sectionMap(s.cfg.Search),
		"sieve":  sectionMap(s.cfg.Sieve),
	}
	s.cfgMu.RUnlock()

	for k, v := range a.Config {
		base[k] = v
	}
	s.writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := s.store.ListExtractionLogs(r.Context(), id, intParam(r.URL.Query().Get("limit")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []*model.ExtractionLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

// sectionMap renders a config section as a generic map for overlaying.
func sectionMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
