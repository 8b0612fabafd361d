// Package schedule drives recurring work: optional cron rescans of the
// configured range and periodic pruning of stale records.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/Y0oshi/deepfocus/internal/errors"
	"github.com/Y0oshi/deepfocus/internal/logging"
)

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger
}

// New creates an idle scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("schedule")
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// AddJob registers fn under a standard five-field cron expression.
func (s *Scheduler) AddJob(spec, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("Scheduled job starting", "job", name)
		fn()
	})
	if err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"invalid cron expression", name, spec)
	}
	return nil
}

// Start begins running jobs and blocks until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// StartAsync begins running jobs without blocking.
func (s *Scheduler) StartAsync() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
