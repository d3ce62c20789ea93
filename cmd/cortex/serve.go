package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	cortex "github.com/cortexmem/cortex"
	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/embedders"
	"github.com/cortexmem/cortex/pkg/gate"
	"github.com/cortexmem/cortex/pkg/lifecycle"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/mcp"
	"github.com/cortexmem/cortex/pkg/server"
	"github.com/cortexmem/cortex/pkg/sieve"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/utils"
	"github.com/cortexmem/cortex/pkg/vector"
	"github.com/cortexmem/cortex/pkg/writer"
)

// ServeCmd starts the sidecar.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config file and apply runtime-tunable sections on change."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := setupLogging(cli, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Info("starting cortex", "version", cortex.Version, "db", cfg.Storage.DBPath)

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := embedders.NewProvider(cfg.Embedding)
	if err != nil {
		return err
	}
	vectors, err := vector.NewProvider(cfg.Vector, embedder.Dimension())
	if err != nil {
		return err
	}
	defer vectors.Close()

	extractionLLM, err := llms.NewProvider(cfg.LLM.Extraction)
	if err != nil {
		return err
	}
	lifecycleLLM, err := llms.NewProvider(cfg.LLM.Lifecycle)
	if err != nil {
		return err
	}

	tokens, err := utils.NewTokenCounter(cfg.LLM.Extraction.Model)
	if err != nil {
		return err
	}

	w := writer.New(st, vectors, embedder, extractionLLM, &cfg.Sieve, &cfg.Layers)
	sv := sieve.New(st, w, extractionLLM, &cfg.Sieve)
	g := gate.New(st, vectors, embedder, extractionLLM, &cfg.Gate, &cfg.Search, tokens)
	engine := lifecycle.New(st, vectors, embedder, lifecycleLLM, &cfg.Lifecycle, &cfg.Layers, &cfg.Sieve)

	scheduler := lifecycle.NewScheduler(engine)
	if cfg.Lifecycle.Enabled != nil && *cfg.Lifecycle.Enabled {
		if err := scheduler.Start(cfg.Lifecycle.Schedule); err != nil {
			return err
		}
	}

	var mcpHandler http.Handler
	if cfg.Server.MCP.Enabled {
		mcpHandler = mcp.NewHandler(g, sv, cortex.Version)
		slog.Info("mcp adapter enabled", "path", cfg.Server.MCP.Path)
	}

	// applyConfig swaps each component's snapshot to sections of the
	// freshly parsed config, which is never mutated afterwards.
	applyConfig := func(next *config.Config) {
		w.Reload(&next.Sieve, &next.Layers)
		sv.Reload(&next.Sieve)
		g.Reload(&next.Gate, &next.Search)
		engine.Reload(&next.Lifecycle, &next.Layers, &next.Sieve)

		if next.Lifecycle.Enabled != nil && *next.Lifecycle.Enabled {
			if err := scheduler.Rearm(next.Lifecycle.Schedule); err != nil {
				slog.Error("failed to rearm lifecycle scheduler", "error", err)
			}
		} else {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			scheduler.Stop(stopCtx)
			cancel()
		}
		slog.Info("applied runtime-tunable config sections",
			"sections", "gate, search, sieve, lifecycle, layers")
	}

	srv := server.New(server.Deps{
		Config:         cfg,
		Store:          st,
		Vectors:        vectors,
		Embedder:       embedder,
		Sieve:          sv,
		Gate:           g,
		Engine:         engine,
		MCP:            mcpHandler,
		OnConfigChange: applyConfig,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Watch && cli.Config != "" {
		go func() {
			err := config.Watch(ctx, cli.Config, srv.ApplyConfig)
			if err != nil && ctx.Err() == nil {
				slog.Error("config watch stopped", "error", err)
			}
		}()
	}

	err = srv.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	scheduler.Stop(stopCtx)
	cancel()

	return err
}
