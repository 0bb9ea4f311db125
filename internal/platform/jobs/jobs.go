// Package jobs runs periodic maintenance tasks on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Func is one unit of maintenance work.
type Func func(ctx context.Context) error

type job struct {
	name string
	spec string
	fn   Func
	id   cron.EntryID
}

// Runner owns a cron scheduler. Jobs run with the context given to Start.
type Runner struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]*job
	ctx    context.Context
	logger zerolog.Logger
}

func NewRunner(loc *time.Location, logger zerolog.Logger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	l := logger.With().Str("component", "jobs").Logger()
	cl := cronLogger{l}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
		logger: l,
	}
}

// Add registers fn under name on a standard cron spec or descriptor
// ("@daily", "@every 1h").
func (r *Runner) Add(name, spec string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	id, err := r.cron.AddFunc(spec, func() { r.run(j) })
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", name, err)
	}
	j.id = id
	r.jobs[name] = j
	return nil
}

func (r *Runner) run(j *job) error {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	start := time.Now()
	err := j.fn(ctx)
	event := r.logger.Info()
	if err != nil {
		event = r.logger.Error().Err(err)
	}
	event.Str("job", j.name).Dur("duration", time.Since(start)).Msg("job finished")
	return err
}

// RunNow executes a registered job synchronously.
func (r *Runner) RunNow(name string) error {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return r.run(j)
}

// Next reports when the named job fires next. Zero until Start.
func (r *Runner) Next(name string) time.Time {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return r.cron.Entry(j.id).Next
}

// Start runs the scheduler until ctx is cancelled, then waits for running
// jobs to finish.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info().Int("jobs", len(r.cron.Entries())).Msg("job runner started")

	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
		r.logger.Info().Msg("job runner stopped")
	}()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
