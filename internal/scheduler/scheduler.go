// Package scheduler runs named jobs on fixed intervals.
//
// Each job gets its own ticker goroutine. Nothing stops a scheduled run and a
// RunNow call of the same job from overlapping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
)

// ErrUnknownJob is returned by RunNow for names that were never added.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc is the work of one job run.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc

	mu      gosync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// JobStatus describes a job for display.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
	Runs     int           `json:"runs"`
}

// Scheduler owns a set of named jobs.
type Scheduler struct {
	mu      gosync.Mutex
	jobs    map[string]*job
	started bool
	wg      gosync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Add registers fn to run every interval. Jobs must be added before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn JobFunc) error {
	if name == "" || fn == nil {
		return errors.New("job needs a name and a function")
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("job %s: scheduler already started", name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already exists", name)
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
	return nil
}

// Start launches one goroutine per job. They exit when ctx is cancelled;
// Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	logger.Info("scheduler: started %d jobs", len(s.jobs))
}

// Wait blocks until every job goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logger.Debug("scheduler: job %s every %s", j.name, j.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("scheduler: job %s stopped", j.name)
			return
		case <-ticker.C:
			if err := s.run(ctx, j); err != nil {
				logger.Error("scheduler: job %s failed: %v", j.name, err)
			}
		}
	}
}

// RunNow runs the named job synchronously and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

// run executes one job run, turning a panic into an error.
func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		j.mu.Lock()
		j.lastRun = start
		j.lastErr = err
		j.runs++
		j.mu.Unlock()

		logger.Debug("scheduler: job %s finished in %s", j.name, time.Since(start).Round(time.Millisecond))
	}()

	return j.fn(ctx)
}

// Status lists the jobs sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		st := JobStatus{Name: j.name, Interval: j.interval, LastRun: j.lastRun, Runs: j.runs}
		if j.lastErr != nil {
			st.LastErr = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
