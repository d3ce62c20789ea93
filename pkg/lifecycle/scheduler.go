package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/cortexmem/cortex/pkg/logger"
)

// Scheduler runs the engine on a cron schedule. Rearm swaps the
// schedule on config reload without restarting the process.
type Scheduler struct {
	engine *Engine
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	spec    string
	running bool
}

func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{engine: engine, logger: logger.GetLogger()}
}

// Start arms the schedule. Standard 5-field cron plus descriptors like
// @daily are accepted.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm(spec)
}

// Rearm replaces the schedule. A no-op if the spec is unchanged; an
// in-flight tick finishes under the old schedule.
func (s *Scheduler) Rearm(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && spec == s.spec {
		return nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
		s.running = false
	}
	return s.arm(spec)
}

// Stop disarms the schedule and waits for any in-flight tick, honoring
// ctx for the wait.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("lifecycle scheduler stop timed out with tick in flight")
	}
}

func (s *Scheduler) arm(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.spec = spec
	s.running = true
	s.logger.Info("lifecycle scheduler armed", "schedule", spec)
	return nil
}

func (s *Scheduler) tick() {
	s.engine.Run(context.Background(), false)
}
