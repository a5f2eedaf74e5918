// Package scheduler repeats apportionment runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/politicai/apportion/pkg/logging"
)

// Job is one scheduled unit of work
type Job func(ctx context.Context) error

// Status describes a scheduled job
type Status struct {
	Name      string
	Schedule  string
	LastRun   *time.Time
	NextRun   time.Time
	Runs      int
	Skipped   int
	LastError string
}

type entry struct {
	name    string
	spec    string
	job     Job
	id      cron.EntryID
	running bool
	status  Status
}

// Service runs jobs on cron schedules. A job whose previous run is still in
// progress is skipped rather than queued.
type Service struct {
	cron   *cron.Cron
	logger *logging.Logger
	ctx    context.Context
	mu     sync.Mutex
	jobs   map[string]*entry
}

// NewService creates a scheduler service
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Service{
		cron:   cron.New(),
		logger: logger,
		ctx:    context.Background(),
		jobs:   make(map[string]*entry),
	}
}

// Add schedules job under name with a standard five-field cron spec or a
// descriptor such as "@daily"
func (s *Service) Add(name, spec string, job Job) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job already scheduled: %s", name)
	}
	e := &entry{name: name, spec: spec, job: job, status: Status{Name: name, Schedule: spec}}
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(e) }))
	s.jobs[name] = e

	s.logger.Info("Scheduled job", logging.String("job", name), logging.String("schedule", spec))
	return nil
}

// Start starts the scheduler; ctx is passed to every job run
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("Job scheduler started", logging.Int("jobs", len(s.jobs)))
}

// Stop stops scheduling and waits for running jobs to return
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Job scheduler stopped")
}

// RunNow executes the named job immediately, subject to the same overlap
// rule. It reports whether the job ran.
func (s *Service) RunNow(name string) (bool, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("job not found: %s", name)
	}
	return s.execute(e), nil
}

func (s *Service) execute(e *entry) bool {
	s.mu.Lock()
	if e.running {
		e.status.Skipped++
		s.mu.Unlock()
		s.logger.Warn("Skipping job, previous run still in progress", logging.String("job", e.name))
		return false
	}
	e.running = true
	ctx := s.ctx
	s.mu.Unlock()

	started := time.Now()
	s.logger.Info("Executing scheduled job", logging.String("job", e.name))
	err := e.job(ctx)

	s.mu.Lock()
	e.running = false
	e.status.Runs++
	e.status.LastRun = &started
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled job failed", err, logging.String("job", e.name))
	} else {
		s.logger.Info("Scheduled job completed", logging.String("job", e.name),
			logging.Float("seconds", time.Since(started).Seconds()))
	}
	return true
}

// Status returns the state of one job
func (s *Service) Status(name string) (Status, bool) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return Status{}, false
	}
	st := e.status
	id := e.id
	s.mu.Unlock()

	st.NextRun = s.cron.Entry(id).Next
	return st, true
}

// List returns every job's status ordered by name
func (s *Service) List() []Status {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	out := make([]Status, 0, len(names))
	for _, name := range names {
		if st, ok := s.Status(name); ok {
			out = append(out, st)
		}
	}
	return out
}
