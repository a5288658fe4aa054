// Package scheduler runs AgriAI's periodic background jobs on cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates a scheduler whose jobs receive ctx. It does not start until Start.
func NewScheduler(ctx context.Context) *Scheduler {
	// Standard 5-field expressions (min, hour, dom, month, dow); panics in jobs are recovered.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Scheduler{cron: c, ctx: ctx}
}

// AddJob schedules task under the given name. It returns an error if expr is invalid.
func (s *Scheduler) AddJob(expr, name string, task func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		task(s.ctx)
		slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return err
	}
	slog.Debug("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: running jobs did not finish", "error", ctx.Err())
	}
}
