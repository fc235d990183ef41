package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-co-op/gocron"

	"weather-etl/internal/models"
	"weather-etl/internal/pipeline"
	"weather-etl/pkg/logging"
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, cities []string) (*pipeline.RunResult, error)
}

// Scheduler runs the pipeline periodically. A failed run is logged and the
// next tick runs as usual; runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	cities    []string
	interval  time.Duration
	logger    *logging.StructuredLogger

	mu   sync.Mutex
	runs int
	last *pipeline.RunResult
}

// New creates a scheduler firing every interval
func New(runner Runner, cities []string, interval time.Duration, logger *logging.StructuredLogger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, &models.ConfigurationError{Field: "schedule.interval", Message: "must be positive"}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		cities:    cities,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Start registers the job and starts ticking in the background. The first
// run starts immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "schedule pipeline job")
	}

	s.scheduler.StartAsync()
	s.logger.Info(ctx, "[SCHEDULER_START] Scheduler started", logging.Fields{
		"interval": s.interval.String(),
		"cities":   len(s.cities),
	})
	return nil
}

// Stop stops the scheduler and waits for a running job to return
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info(context.Background(), "[SCHEDULER_STOP] Scheduler stopped", logging.Fields{
		"runs": s.Runs(),
	})
}

// RunOnce executes a single run and records its outcome
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result, err := s.runner.Run(ctx, s.cities)

	s.mu.Lock()
	s.runs++
	s.last = result
	s.mu.Unlock()

	fields := logging.Fields{"exit_code": pipeline.ExitCode(err)}
	if result != nil {
		fields["run_id"] = result.RunID
		fields["summary"] = result.Summary()
	}
	if err != nil {
		s.logger.Error(ctx, "[SCHEDULER_RUN_FAILED] Scheduled run failed", fields, err)
		return
	}
	s.logger.Info(ctx, "[SCHEDULER_RUN] Scheduled run completed", fields)
}

// Runs returns the number of runs executed so far
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Last returns the result of the most recent run
func (s *Scheduler) Last() *pipeline.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
