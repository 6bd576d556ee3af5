package serve

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/everydev1618/pmc/parking"
)

// Job is a periodic maintenance task. Run returns how many records it touched.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

// Scheduler runs maintenance jobs on cron schedules in Bogotá time.
type Scheduler struct {
	c      *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		c:       cron.New(cron.WithLocation(parking.Bogota)),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob registers a job, replacing any job with the same name.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.Name]; ok {
		s.c.Remove(id)
		delete(s.entries, job.Name)
	}
	id, err := s.c.AddFunc(job.Spec, s.makeFunc(job))
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.Spec, err)
	}
	s.entries[job.Name] = id
	s.logger.Info("scheduler: job added", "name", job.Name, "cron", job.Spec)
	return nil
}

// Jobs returns the registered job names with their next run.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.c.Entry(id).Next
	}
	return out
}

// Start runs the cron loop and blocks until ctx is cancelled, then waits
// for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.c.Start()
	s.logger.Info("scheduler started")
	<-ctx.Done()
	<-s.c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) makeFunc(job Job) func() {
	return func() {
		s.mu.Lock()
		parent := s.ctx
		s.mu.Unlock()

		timeout := job.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		start := time.Now()
		n, err := job.Run(ctx)
		if err != nil {
			s.logger.Warn("scheduler: job failed", "name", job.Name, "error", err)
			return
		}
		s.logger.Info("scheduler: job done", "name", job.Name, "count", n, "duration_ms", time.Since(start).Milliseconds())
	}
}
