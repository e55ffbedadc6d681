package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultShutdownTimeout = 30 * time.Second

// scheduler owns the cron loop and the set of lockedJob instances
// registered against it, and waits for in-flight triggers to finish (up
// to each job's own lock TTL) on shutdown. Grounded on
// cronlock/internal/scheduler/scheduler.go's Scheduler end to end, with
// Job/executor/config.NodeConfig replaced by lockedJob and a single
// gracePeriod duration.
type scheduler struct {
	cron        *cron.Cron
	gracePeriod time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	jobs map[string]*lockedJob
}

func newScheduler(gracePeriod time.Duration, logger *slog.Logger) *scheduler {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	return &scheduler{
		cron:        c,
		gracePeriod: gracePeriod,
		logger:      logger,
		jobs:        make(map[string]*lockedJob),
	}
}

func (s *scheduler) AddJob(j *lockedJob) error {
	entryID, err := s.cron.AddJob(j.cfg.Schedule, j)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", j.cfg.Name, err)
	}
	s.mu.Lock()
	s.jobs[j.Name()] = j
	s.mu.Unlock()
	s.logger.Info("scheduled job", "job", j.Name(), "schedule", j.cfg.Schedule, "entry_id", entryID)
	return nil
}

func (s *scheduler) Start() {
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("starting scheduler", "job_count", n)
	s.cron.Start()
}

// Stop halts new triggers and waits for any currently running job to
// finish, canceling it if it outlives its own TTL plus the configured
// grace period.
func (s *scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cron.Stop()

	s.mu.Lock()
	var running []*lockedJob
	for _, j := range s.jobs {
		if j.IsRunning() {
			running = append(running, j)
		}
	}
	s.mu.Unlock()

	if len(running) == 0 {
		s.logger.Info("no running jobs, scheduler stopped")
		return
	}

	s.logger.Info("waiting for running jobs to complete", "count", len(running))
	var wg sync.WaitGroup
	for _, j := range running {
		wg.Add(1)
		go func(j *lockedJob) {
			defer wg.Done()
			s.waitForJob(j)
		}(j)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *scheduler) waitForJob(j *lockedJob) {
	timeout := j.shutdownTimeout() + s.gracePeriod
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.logger.Warn("job exceeded shutdown timeout, canceling", "job", j.Name(), "timeout", timeout)
			j.Cancel()
			return
		case <-ticker.C:
			if !j.IsRunning() {
				s.logger.Info("job completed during shutdown", "job", j.Name())
				return
			}
		}
	}
}
