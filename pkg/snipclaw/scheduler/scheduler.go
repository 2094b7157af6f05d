// Package scheduler runs periodic maintenance jobs, such as pulling the
// snippet repository, on cron schedules (robfig/cron).
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the scheduler section of the configuration.
type Config struct {
	// PullSchedule is the cron expression of the repository pull job.
	// Empty disables it.
	PullSchedule string `yaml:"pull_schedule"`

	// JobTimeout bounds one job run.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// JobFunc is the body of a job.
type JobFunc func(ctx context.Context) error

// Job is a registered job.
type Job struct {
	ID       string
	Schedule string
	Run      JobFunc

	// Exact disables the stagger applied to top-of-hour schedules.
	Exact bool

	LastRunAt       time.Time
	LastError       string
	LastRunDuration time.Duration
	RunCount        int
}

// Scheduler runs jobs on cron schedules. A job never overlaps with itself.
type Scheduler struct {
	jobs    map[string]*Job
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID
	running map[string]bool

	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler.
func New(jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		jobs:       make(map[string]*Job),
		cronIDs:    make(map[string]cron.EntryID),
		running:    make(map[string]bool),
		jobTimeout: jobTimeout,
		logger:     logger.With("component", "scheduler"),
		ctx:        context.Background(),
	}
}

// Add registers a job. The schedule is validated immediately.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no function", job.ID)
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if s.cron != nil {
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job
	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job %q not found", id)
	}
	if entryID, ok := s.cronIDs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, id)
	}
	delete(s.jobs, id)
	s.logger.Info("job removed", "id", id)
	return nil
}

// List returns the registered job ids, sorted.
func (s *Scheduler) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a snapshot of a job.
func (s *Scheduler) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start schedules every registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(parser))
	for _, job := range s.jobs {
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts scheduling and waits briefly for running jobs.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	c, cancel := s.cron, s.cancel
	s.mu.RUnlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, subject to the overlap guard.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}
	return s.execute(job, false)
}

func (s *Scheduler) scheduleLocked(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		if err := s.execute(job, true); err != nil && err != errAlreadyRunning {
			s.logger.Debug("job run ended with error", "id", job.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

var errAlreadyRunning = fmt.Errorf("job already running")

// execute runs a job with the overlap guard, the job timeout and panic
// recovery.
func (s *Scheduler) execute(job *Job, stagger bool) (err error) {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return errAlreadyRunning
	}
	s.running[job.ID] = true
	base := s.ctx
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
		s.mu.Lock()
		delete(s.running, job.ID)
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = ""
		}
		s.mu.Unlock()
	}()

	if d := resolveStagger(job); stagger && d > 0 {
		select {
		case <-time.After(d):
		case <-base.Done():
			return base.Err()
		}
	}

	ctx, cancel := context.WithTimeout(base, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err = job.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	job.LastRunAt = start
	job.LastRunDuration = elapsed
	job.RunCount++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", elapsed)
	} else {
		s.logger.Info("scheduled job completed", "id", job.ID, "duration", elapsed)
	}
	return err
}

// resolveStagger spreads top-of-hour schedules over five minutes with an
// offset derived from the job id.
func resolveStagger(job *Job) time.Duration {
	if job.Exact || !isTopOfHourSchedule(job.Schedule) {
		return 0
	}
	h := sha256.Sum256([]byte(job.ID))
	n := binary.BigEndian.Uint32(h[:4])
	ms := int64(n) % (5 * time.Minute).Milliseconds()
	return time.Duration(ms) * time.Millisecond
}

func isTopOfHourSchedule(schedule string) bool {
	s := strings.TrimSpace(strings.ToLower(schedule))
	switch s {
	case "@hourly", "@daily", "@midnight", "@weekly", "@monthly", "@yearly", "@annually":
		return true
	}
	fields := strings.Fields(s)
	return len(fields) >= 5 && fields[0] == "0"
}
