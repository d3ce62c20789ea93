package server

import (
	"net/http"

	"github.com/cortexmem/cortex/pkg/gate"
	"github.com/cortexmem/cortex/pkg/metrics"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/sieve"
	"github.com/cortexmem/cortex/pkg/writer"
)

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var in gate.RecallInput
	if !s.decode(w, r, &in) {
		return
	}
	if in.AgentID == "" {
		in.AgentID = sieve.DefaultAgentID
	}

	metrics.RecallsTotal.Inc()
	res := s.gate.Recall(r.Context(), in)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var in sieve.IngestInput
	if !s.decode(w, r, &in) {
		return
	}

	metrics.IngestsTotal.Inc()
	res, err := s.sieve.Ingest(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	countIngest(res)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	var in sieve.IngestInput
	if !s.decode(w, r, &in) {
		return
	}

	metrics.IngestsTotal.Inc()
	res, err := s.sieve.Flush(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	countIngest(res)
	s.writeJSON(w, http.StatusOK, res)
}

func countIngest(res *sieve.IngestResult) {
	for _, o := range res.Extracted {
		switch o.Result {
		case writer.ResultInserted, writer.ResultSmartUpdated:
			metrics.MemoriesWritten.Inc()
		case writer.ResultSkipped:
			metrics.DedupHits.Inc()
		}
	}
	metrics.SmartUpdates.Add(float64(res.SmartUpdated))
}

type searchRequest struct {
	Query   string `json:"query"`
	AgentID string `json:"agent_id,omitempty"`
	Expand  bool   `json:"expand,omitempty"`
}

type searchResponse struct {
	Results []gate.SearchHit `json:"results"`
}

// handleSearch is the debug surface: scored hits, no injection, no
// access-count side effects.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var in searchRequest
	if !s.decode(w, r, &in) {
		return
	}
	if in.AgentID == "" {
		in.AgentID = sieve.DefaultAgentID
	}

	hits, err := s.gate.Search(r.Context(), in.AgentID, in.Query, in.Expand)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hits == nil {
		hits = []gate.SearchHit{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: hits})
}

// upsertVector mirrors a direct memory write into the vector index.
// Best effort; keyword search still covers the row on failure.
func (s *Server) upsertVector(r *http.Request, m *model.Memory) {
	vec, err := s.embedder.Embed(r.Context(), m.Content)
	if err != nil {
		s.logger.Warn("embedding failed for direct write", "id", m.ID, "error", err)
		return
	}
	err = s.vectors.Upsert(r.Context(), m.ID, vec, map[string]any{
		"agent_id": m.AgentID,
		"category": string(m.Category),
		"layer":    string(m.Layer),
	})
	if err != nil {
		s.logger.Warn("vector upsert failed for direct write", "id", m.ID, "error", err)
	}
}
