// Package scheduler drives the 24/7 collection loop: recurring pipeline
// sweeps, quarantine revival, outcome resolution and retention pruning, all
// on UTC cron schedules.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages the recurring jobs. Jobs are registered by name before
// Start; the cron runner lives in UTC so schedules never drift across DST.
type Scheduler struct {
	cron            *cron.Cron
	logger          *logrus.Entry
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          map[string]cron.EntryID
	gracefulTimeout time.Duration
}

// New creates a new scheduler
func New(log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:            cron.New(cron.WithLocation(time.UTC)),
		logger:          log.WithField("component", "scheduler"),
		jobIDs:          make(map[string]cron.EntryID),
		gracefulTimeout: 30 * time.Second,
	}
}

// AddJob registers a named job under a cron spec, either five-field
// ("30 9 * * *") or an interval ("@every 60s").
func (s *Scheduler) AddJob(name, spec string, cmd func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule %q while scheduler is running", name)
	}
	if _, exists := s.jobIDs[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}

	entryID, err := s.cron.AddFunc(spec, cmd)
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", name, err)
	}
	s.jobIDs[name] = entryID

	s.logger.WithFields(logrus.Fields{
		"job":  name,
		"spec": spec,
	}).Info("Job scheduled")
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler, waiting out in-flight jobs up to the graceful
// timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
	case <-time.After(s.gracefulTimeout):
		s.logger.Warn("Scheduler stopped with jobs still in flight")
	}
	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns when the named job fires next
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.jobIDs[name]
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Entries returns the scheduled entries by job name
func (s *Scheduler) Entries() map[string]cron.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]cron.Entry, len(s.jobIDs))
	for name, id := range s.jobIDs {
		entry := s.cron.Entry(id)
		if entry.Valid() {
			entries[name] = entry
		}
	}
	return entries
}
