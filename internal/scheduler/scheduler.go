// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrJobRunning is returned by RunNow when the job is already executing.
var ErrJobRunning = errors.New("job is already running")

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobRecorder records job executions.
type JobRecorder interface {
	ObserveJob(job string, err error)
}

// ErrorReporter surfaces failed runs to operators.
type ErrorReporter interface {
	EmitError(module string, err error, context map[string]interface{})
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Next      *time.Time `json:"next,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	Running   bool       `json:"running"`
}

type entry struct {
	job      Job
	schedule string
	id       cron.EntryID

	mu        sync.Mutex
	running   bool
	lastRun   time.Time
	lastError error
	runs      int
	failures  int
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	metrics JobRecorder
	errors  ErrorReporter
	log     zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*entry
}

// New creates a new scheduler. metrics may be nil.
func New(metrics JobRecorder, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		metrics: metrics,
		log:     log.With().Str("component", "scheduler").Logger(),
		jobs:    make(map[string]*entry),
	}
}

// SetErrorReporter registers where failed runs are reported.
func (s *Scheduler) SetErrorReporter(r ErrorReporter) {
	s.errors = r
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.Jobs())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 0 3 * * *"        - 3 AM daily
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}

	e := &entry{job: job, schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.execute(e); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}
	e.id = id
	s.jobs[job.Name()] = e

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a registered job immediately (outside schedule). Jobs
// that were never registered are run directly.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")

	s.mu.RLock()
	e, ok := s.jobs[job.Name()]
	s.mu.RUnlock()
	if !ok {
		e = &entry{job: job}
	}
	return s.execute(e)
}

// RunByName executes the registered job called name.
func (s *Scheduler) RunByName(name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.RunNow(e.job)
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		info := JobInfo{Name: name, Schedule: e.schedule}
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			info.Next = &next
		}

		e.mu.Lock()
		info.Runs = e.runs
		info.Failures = e.failures
		info.Running = e.running
		if !e.lastRun.IsZero() {
			last := e.lastRun
			info.LastRun = &last
		}
		if e.lastError != nil {
			info.LastError = e.lastError.Error()
		}
		e.mu.Unlock()

		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) execute(e *entry) (err error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.log.Warn().Str("job", e.job.Name()).Msg("Skipping run, previous run still in progress")
		return ErrJobRunning
	}
	e.running = true
	e.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", e.job.Name(), r)
		}

		e.mu.Lock()
		e.running = false
		e.lastRun = start
		e.lastError = err
		e.runs++
		if err != nil {
			e.failures++
		}
		e.mu.Unlock()

		if s.metrics != nil {
			s.metrics.ObserveJob(e.job.Name(), err)
		}
		if err != nil && s.errors != nil {
			s.errors.EmitError("scheduler", err, map[string]interface{}{"job": e.job.Name()})
		}
		s.log.Debug().
			Str("job", e.job.Name()).
			Dur("duration", time.Since(start)).
			Bool("ok", err == nil).
			Msg("Job finished")
	}()

	s.log.Debug().Str("job", e.job.Name()).Msg("Running job")
	return e.job.Run()
}
