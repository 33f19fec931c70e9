// Package scheduler runs sync jobs on a cron schedule and on demand, never
// more than one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ajitpratap0/calsync/internal/syncer"
)

// ErrRunInProgress is returned by Trigger while another run is active.
var ErrRunInProgress = errors.New("scheduler: a sync run is already in progress")

// Job performs one run.
type Job func(ctx context.Context) (*syncer.Report, error)

// Status describes the scheduler's most recent activity.
type Status struct {
	Running    bool           `json:"running"`
	Schedule   string         `json:"schedule,omitempty"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	LastReport *syncer.Report `json:"last_report,omitempty"`
	Runs       int            `json:"runs"`
}

// Scheduler serializes runs of a Job.
type Scheduler struct {
	job    Job
	logger *slog.Logger

	mu         sync.Mutex
	running    bool
	runs       int
	lastRunAt  time.Time
	lastErr    error
	lastReport *syncer.Report

	cron     *cron.Cron
	schedule string
	entry    cron.EntryID
}

// New creates a scheduler for job.
func New(job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{job: job, logger: logger}
}

// Trigger runs the job now unless a run is already active. A panicking job
// is reported as an error and frees the scheduler for the next run.
func (s *Scheduler) Trigger(ctx context.Context) (report *syncer.Report, err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	started := time.Now().UTC()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: run panicked: %v", p)
		}
		s.mu.Lock()
		s.running = false
		s.runs++
		s.lastRunAt = started
		s.lastErr = err
		if report != nil {
			s.lastReport = report
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("sync run failed", "error", err)
		}
	}()

	report, err = s.job(ctx)
	return report, err
}

// Start schedules the job on the cron schedule. Runs use ctx; a run that would overlap
// the previous one is skipped.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	logger := cronLogger{l: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(schedule, func() {
		if _, err := s.Trigger(ctx); errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("scheduled run skipped", "reason", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: parsing schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.schedule = schedule
	s.entry = id
	s.mu.Unlock()

	c.Start()
	s.logger.Info("scheduler started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and returns a context done when the active run ends.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.Stop()
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.running,
		Schedule:   s.schedule,
		LastReport: s.lastReport,
		Runs:       s.runs,
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		st.LastRunAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
