// Package scheduler drives continuous collection: one run every poll
// interval, each with its own deadline. Single process only.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one collection run bounded by the context's deadline.
type Job func(ctx context.Context)

type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	timeout   time.Duration
	job       Job
}

// New creates a scheduler that triggers job every interval. timeout bounds
// each run; a run that overruns it is cancelled, and the pipeline records
// abandoned fetches as transient failures.
func New(interval, timeout time.Duration, job Job) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		timeout:   timeout,
		job:       job,
	}
}

// Start schedules the periodic run and starts the underlying scheduler.
// Runs never overlap: a new tick is skipped while the previous run is
// still in flight.
func (s *Scheduler) Start() error {
	s.scheduler.SingletonModeAll()

	_, err := s.scheduler.Every(s.interval).Do(func() {
		log.Println("scheduler: starting collection run")

		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		defer cancel()

		s.job(ctx)
		log.Println("scheduler: collection run finished")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
