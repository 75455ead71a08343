// Package scheduler runs the periodic maintenance jobs: reconciliation per
// platform, removed-content purges, profile refreshes and exchange rates.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrUnknownJob     = errors.New("unknown job")
)

type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	run     JobFunc
	timeout time.Duration
}

// Scheduler wraps a cron runner. Each tick starts a run even when the previous
// run of the same job is still going; jobs must tolerate overlap. Job errors
// are logged, never propagated.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New() *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		jobs:   make(map[string]job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job under a cron spec such as "*/10 * * * *" or
// "@every 1h". An empty spec disables the job. A zero timeout means the job
// runs until the scheduler stops.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	j := job{name: name, spec: spec, run: run, timeout: timeout}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.execute(s.ctx, j) }); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	s.jobs[name] = j
	return nil
}

// Jobs lists registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.cron.Start()
	log.Printf("scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, j job) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	started := time.Now()
	err := j.run(ctx)
	entry := log.WithFields(log.Fields{"job": j.name, "elapsed": time.Since(started).Round(time.Millisecond)})
	if err != nil {
		entry.WithError(err).Error("scheduled job failed")
		return err
	}
	entry.Info("scheduled job finished")
	return nil
}
