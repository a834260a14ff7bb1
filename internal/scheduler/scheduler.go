// Package scheduler runs the dead man's switch notifier on a fixed interval
// inside the server process.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/uveral/diario/internal/deadman"
	derrors "github.com/uveral/diario/internal/errors"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires jobs on tickers until its context ends.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger
}

// New creates a Scheduler with the given jobs.
func New(logger zerolog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Start launches one goroutine per job. It returns a channel that is closed
// once every job has stopped.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	remaining := make(chan struct{}, len(s.jobs))
	for _, job := range s.jobs {
		go func(j Job) {
			s.runJob(ctx, j)
			remaining <- struct{}{}
		}(job)
	}
	go func() {
		for range s.jobs {
			<-remaining
		}
		close(done)
	}()
	return done
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	logger := s.logger.With().Str("job", job.Name).Logger()
	logger.Info().Dur("interval", job.Interval).Msg("job started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("job stopped")
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("job run failed")
			}
		}
	}
}

// DeadmanJob wraps a notifier run. Configuration errors are logged as
// warnings and do not count as failures; state is untouched so the next
// tick retries.
func DeadmanJob(runner deadman.Runner, interval time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name:     "deadman",
		Interval: interval,
		Run: func(ctx context.Context) error {
			out, err := runner.Run(ctx)
			if cfgErr, ok := derrors.AsConfigError(err); ok {
				logger.Warn().Str("reason", cfgErr.Reason).Str("detail", cfgErr.Detail).Msg("deadman not configured")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Debug().Str("mode", runner.Mode()).Str("state", out.State).Int("stage", out.Stage).Msg("deadman run")
			return nil
		},
	}
}
