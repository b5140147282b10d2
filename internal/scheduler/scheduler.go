package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/agroclim/matopiba-eto/internal/orchestrator"
)

// Scheduler triggers batch ETo runs on a cron expression.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    *orchestrator.Orchestrator
	cronExpr  string
}

// New creates a new Scheduler. The expression uses standard five-field cron
// syntax, evaluated in UTC.
func New(cronExpr string, runner *orchestrator.Orchestrator) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		cronExpr:  cronExpr,
	}
}

// Start schedules the batch job and starts the underlying scheduler.
// SingletonMode guarantees a slow run is never overlapped by the next tick.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron(s.cronExpr).SingletonMode().Do(func() {
		log.Println("scheduler: starting batch eto run")

		result, err := s.runner.Run(context.Background())
		if err != nil {
			log.Printf("scheduler: batch run %s failed: %v", result.RunLabel, err)
			return
		}
		log.Printf("scheduler: batch run %s finished in %s (success rate %.1f%%)",
			result.RunLabel, result.FinishedAt.Sub(result.StartedAt).Round(time.Second), 100*result.SuccessRate)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunNow triggers an immediate run outside the cron cadence.
func (s *Scheduler) RunNow(ctx context.Context) (*orchestrator.RunResult, error) {
	return s.runner.Run(ctx)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
