// Package server exposes the sidecar over a JSON REST API under
// /api/v1, plus /health, /metrics and the optional MCP adapter.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/embedders"
	"github.com/cortexmem/cortex/pkg/gate"
	"github.com/cortexmem/cortex/pkg/lifecycle"
	"github.com/cortexmem/cortex/pkg/logger"
	"github.com/cortexmem/cortex/pkg/metrics"
	"github.com/cortexmem/cortex/pkg/sieve"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/vector"
)

// Deps carries the wired subsystems. MCP may be nil when the adapter is
// disabled; OnConfigChange may be nil.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Vectors  vector.Provider
	Embedder embedders.Provider
	Sieve    *sieve.Sieve
	Gate     *gate.Gate
	Engine   *lifecycle.Engine
	MCP      http.Handler

	// OnConfigChange runs after a successful PATCH /config or watcher
	// reload, with the config mutex held. It receives a freshly parsed
	// config that is never mutated afterwards; component snapshot swaps
	// and the scheduler re-arm happen here.
	OnConfigChange func(*config.Config)
}

// Server is the HTTP front of the sidecar.
type Server struct {
	cfg      *config.Config
	cfgMu    sync.RWMutex
	store    *store.Store
	vectors  vector.Provider
	embedder embedders.Provider
	sieve    *sieve.Sieve
	gate     *gate.Gate
	engine   *lifecycle.Engine
	mcp      http.Handler
	onChange func(*config.Config)
	http     *http.Server
	logger   *slog.Logger
}

func New(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		vectors:  d.Vectors,
		embedder: d.Embedder,
		sieve:    d.Sieve,
		gate:     d.Gate,
		engine:   d.Engine,
		mcp:      d.MCP,
		onChange: d.OnConfigChange,
		logger:   logger.GetLogger(),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverer, s.requestMetrics)

	r.Get("/health", s.handleHealth)
	if s.cfg.Server.Metrics == nil || *s.cfg.Server.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	if s.mcp != nil {
		r.Handle(s.cfg.Server.MCP.Path+"/*", s.mcp)
		r.Handle(s.cfg.Server.MCP.Path, s.mcp)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/recall", s.handleRecall)
		r.Post("/ingest", s.handleIngest)
		r.Post("/flush", s.handleFlush)
		r.Post("/search", s.handleSearch)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", s.handleListMemories)
			r.Post("/", s.handleCreateMemory)
			r.Get("/{id}", s.handleGetMemory)
			r.Patch("/{id}", s.handleUpdateMemory)
			r.Delete("/{id}", s.handleDeleteMemory)
		})

		r.Route("/relations", func(r chi.Router) {
			r.Get("/", s.handleListRelations)
			r.Post("/", s.handleUpsertRelation)
			r.Get("/{id}", s.handleGetRelation)
			r.Delete("/{id}", s.handleDeleteRelation)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Get("/{id}", s.handleGetAgent)
			r.Patch("/{id}", s.handleUpdateAgent)
			r.Delete("/{id}", s.handleDeleteAgent)
			r.Get("/{id}/config", s.handleAgentConfig)
			r.Get("/{id}/logs", s.handleAgentLogs)
		})

		r.Post("/lifecycle/run", s.handleLifecycleRun)
		r.Get("/lifecycle/preview", s.handleLifecyclePreview)

		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleGetConfig)
		r.Patch("/config", s.handlePatchConfig)
	})

	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// ApplyConfig installs the runtime-tunable sections of a freshly
// loaded config and notifies OnConfigChange. The config watcher calls
// this; next must not be mutated afterwards.
func (s *Server) ApplyConfig(next *config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.cfg.Gate = next.Gate
	s.cfg.Search = next.Search
	s.cfg.Sieve = next.Sieve
	s.cfg.Lifecycle = next.Lifecycle
	s.cfg.Layers = next.Layers

	if s.onChange != nil {
		s.onChange(next)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
