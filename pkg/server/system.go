package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/cortexmem/cortex/pkg/config"
)

type healthResponse struct {
	Status  string `json:"status"`
	Store   bool   `json:"store"`
	Vectors string `json:"vectors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.store.Healthy(r.Context())
	resp := healthResponse{Status: "ok", Store: healthy, Vectors: s.vectors.Name()}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleGetConfig renders the live configuration with credentials
// masked.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	cp := *s.cfg
	s.cfgMu.RUnlock()

	cp.LLM.Extraction.APIKey = mask(cp.LLM.Extraction.APIKey)
	cp.LLM.Lifecycle.APIKey = mask(cp.LLM.Lifecycle.APIKey)
	cp.Embedding.APIKey = mask(cp.Embedding.APIKey)

	out, err := configMap(&cp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// mutableSections are the config sections PATCH /config may change at
// runtime. Provider and storage sections need a restart.
var mutableSections = map[string]bool{
	"gate": true, "search": true, "sieve": true,
	"lifecycle": true, "layers": true,
}

// handlePatchConfig merges the patch into the current config at section
// granularity, revalidates the whole thing, and hands the merged config
// to OnConfigChange, which swaps the components' snapshots.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if !s.decode(w, r, &patch) {
		return
	}
	for section := range patch {
		if !mutableSections[section] {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: fmt.Sprintf("section %q is not patchable at runtime", section),
			})
			return
		}
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	merged, err := s.mergedConfig(patch)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// s.cfg is the server's own view (GET /config, effective agent
	// config); the components swap to snapshots of merged, which is
	// never mutated after this point.
	s.cfg.Gate = merged.Gate
	s.cfg.Search = merged.Search
	s.cfg.Sieve = merged.Sieve
	s.cfg.Lifecycle = merged.Lifecycle
	s.cfg.Layers = merged.Layers

	if s.onChange != nil {
		s.onChange(merged)
	}
	s.logger.Info("configuration patched", "sections", len(patch))

	cp := *s.cfg
	cp.LLM.Extraction.APIKey = mask(cp.LLM.Extraction.APIKey)
	cp.LLM.Lifecycle.APIKey = mask(cp.LLM.Lifecycle.APIKey)
	cp.Embedding.APIKey = mask(cp.Embedding.APIKey)
	out, err := configMap(&cp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// mergedConfig overlays the patch sections onto the current config and
// reruns the full default/validate pipeline.
func (s *Server) mergedConfig(patch map[string]json.RawMessage) (*config.Config, error) {
	current, err := configMap(s.cfg)
	if err != nil {
		return nil, err
	}

	for section, raw := range patch {
		var overlay map[string]any
		if err := json.Unmarshal(raw, &overlay); err != nil {
			return nil, fmt.Errorf("section %q: %w", section, err)
		}
		base, _ := current[section].(map[string]any)
		if base == nil {
			base = map[string]any{}
		}
		for k, v := range overlay {
			base[k] = v
		}
		current[section] = base
	}

	data, err := yaml.Marshal(current)
	if err != nil {
		return nil, err
	}
	return config.Parse(data)
}

// configMap renders a config through its yaml tags into a generic map.
func configMap(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	return "********"
}
