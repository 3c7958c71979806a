// Package cron runs in-process maintenance jobs such as idle session sweeping.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Service manages scheduled jobs.
type Service struct {
	c       *cron.Cron
	mu      sync.RWMutex
	jobs    map[string]*Job
	entries map[string]cron.EntryID
	running bool
}

// NewService creates a stopped scheduler.
func NewService() *Service {
	return &Service{
		c:       cron.New(),
		jobs:    make(map[string]*Job),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob registers fn under name with a standard cron expression or an
// @every descriptor. It returns the job as registered.
func (s *Service) AddJob(name, schedule string, fn func(context.Context) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:       uuid.New().String()[:8],
		Name:     name,
		Schedule: schedule,
	}

	id, err := s.c.AddFunc(schedule, func() { s.execute(job.ID, fn) })
	if err != nil {
		return Job{}, fmt.Errorf("schedule %q for job %s: %w", schedule, name, err)
	}
	s.jobs[job.ID] = job
	s.entries[job.ID] = id
	return *job, nil
}

// RemoveJob unschedules a job. It reports whether the job existed.
func (s *Service) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[jobID]
	if !ok {
		return false
	}
	s.c.Remove(id)
	delete(s.entries, jobID)
	delete(s.jobs, jobID)
	return true
}

// Start starts the scheduler in its own goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	s.running = true
	n := len(s.jobs)
	s.mu.Unlock()

	s.c.Start()
	zap.S().Infow("Cron service started", "jobs", n)
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(jobID string, fn func(context.Context) error) {
	s.execute(jobID, fn)
}

func (s *Service) execute(jobID string, fn func(context.Context) error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	var name string
	if ok {
		name = job.Name
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	start := time.Now()
	status, errText := "ok", ""

	func() {
		defer func() {
			if r := recover(); r != nil {
				status, errText = "error", fmt.Sprintf("panic: %v", r)
			}
		}()
		if err := fn(context.Background()); err != nil {
			status, errText = "error", err.Error()
		}
	}()

	if status != "ok" {
		zap.S().Warnw("Cron job failed", "job", name, "err", errText)
	} else {
		zap.S().Debugw("Cron job finished", "job", name, "took", time.Since(start))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.State.LastRunAt = start
		job.State.LastStatus = status
		job.State.LastError = errText
		job.State.Runs++
	}
}

// ListJobs returns a snapshot of all jobs sorted by next run time.
func (s *Service) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for id, job := range s.jobs {
		j := *job
		if s.running {
			j.State.NextRunAt = s.c.Entry(s.entries[id]).Next
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		n1, n2 := jobs[i].State.NextRunAt, jobs[k].State.NextRunAt
		if n1.IsZero() != n2.IsZero() {
			return !n1.IsZero()
		}
		if n1.Equal(n2) {
			return jobs[i].Name < jobs[k].Name
		}
		return n1.Before(n2)
	})
	return jobs
}
