// Package scheduler runs recurring jobs (scheduled backups, the license
// expiry sweep, database upkeep) on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"licensehub/internal/logging"
	"licensehub/internal/metrics"
)

// Parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @daily.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec is a usable schedule. An empty spec
// is valid and disables the job.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) Result
}

// Result is the outcome of one job run.
type Result struct {
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message"`
	Processed int           `json:"processed,omitempty"`
	Error     error         `json:"-"`
}

// Status describes a registered job.
type Status struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Enabled     bool       `json:"enabled"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	LastResult  *Result    `json:"lastResult,omitempty"`
}

// Config wires a Scheduler.
type Config struct {
	// Location for schedule evaluation, UTC when nil.
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   logging.Logger
	// JobTimeout bounds a single run. Zero means no limit.
	JobTimeout time.Duration
}

type registration struct {
	job     Job
	spec    string
	entryID cron.EntryID
	status  Status
}

// Scheduler manages and executes jobs on a schedule
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*registration
	mu      sync.RWMutex
	running bool
	timeout time.Duration
	metrics *metrics.Metrics
	logger  logging.Logger
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	cl := cronLogger{cfg.Logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:    make(map[string]*registration),
		timeout: cfg.JobTimeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Register adds job under spec. A job registered with an empty spec is kept
// for RunNow but never fires on its own.
func (s *Scheduler) Register(job Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	reg := &registration{
		job:  job,
		spec: spec,
		status: Status{
			Name:        name,
			Description: job.Description(),
			Schedule:    spec,
			Enabled:     spec != "",
		},
	}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() { s.execute(context.Background(), reg) })
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
		reg.entryID = id
		s.logger.Infof("scheduled job %s (%s)", name, spec)
	} else {
		s.logger.Infof("job %s registered without schedule", name)
	}

	s.jobs[name] = reg
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Infof("scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Infof("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunNow executes the named job immediately and returns its result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.RLock()
	reg, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("job %s not found", name)
	}
	return s.execute(ctx, reg), nil
}

// Statuses returns every registered job, sorted by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.jobs))
	for _, reg := range s.jobs {
		st := reg.status
		if reg.spec != "" {
			if next := s.cron.Entry(reg.entryID).Next; !next.IsZero() {
				st.NextRun = &next
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsRunning reports whether the scheduler is firing jobs.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) execute(ctx context.Context, reg *registration) Result {
	name := reg.job.Name()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Debugf("starting job %s", name)
	start := time.Now()
	result := reg.job.Run(ctx)
	result.Duration = time.Since(start)

	s.mu.Lock()
	reg.status.LastRun = &start
	last := result
	reg.status.LastResult = &last
	s.mu.Unlock()

	s.metrics.AddSchedulerRun(name, result.Error)
	if result.Success {
		s.logger.Infof("job %s completed in %v: %s", name, result.Duration.Round(time.Millisecond), result.Message)
	} else {
		s.logger.Errorf("job %s failed after %v: %s: %v", name, result.Duration.Round(time.Millisecond), result.Message, result.Error)
	}
	return result
}

// cronLogger adapts the zap logger to cron's logging interface.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
