package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// RunFunc performs one scheduled run.
type RunFunc func(ctx context.Context) error

// Scheduler triggers recurring runs from cron expressions, for soak setups
// that exercise a target on an interval. Overlapping triggers of the same job
// are skipped rather than queued.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	running map[string]bool
}

func New() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		running: make(map[string]bool),
	}
}

// Add registers a job under a cron spec like "0 */5 * * * *".
func (s *Scheduler) Add(ctx context.Context, spec, name string, fn RunFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		if !s.tryAcquire(name) {
			slog.WarnContext(ctx, "scheduled run still in progress, skipping trigger", "job", name)
			return
		}
		defer s.release(name)

		slog.InfoContext(ctx, "scheduled run starting", "job", name)
		if err := fn(ctx); err != nil {
			slog.ErrorContext(ctx, "scheduled run failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "invalid cron spec %q for job %q", spec, name).WithCause(err)
	}
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts triggering and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}
