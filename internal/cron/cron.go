// Package cron runs the manager's periodic tasks (status, resources,
// dashboard) on robfig/cron schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named periodic task.
// Schedule accepts descriptors ("@every 3s", "@hourly") and cron expressions
// with an optional seconds field. A tick is skipped while the previous run of
// the same job is still going.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
	// RunNow also runs the job once when the scheduler starts.
	RunNow bool
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty schedule")
	}
	return parser.Parse(expr)
}

func (j Job) validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job requires a name")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s: nil run func", j.Name)
	}
	if _, err := ParseSchedule(j.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	return nil
}

// Scheduler owns a robfig cron instance and the context handed to jobs.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []Job
	names   map[string]struct{}
	c       *cron.Cron
	cancel  context.CancelFunc
	running bool
	initial sync.WaitGroup // RunNow runs, not tracked by cron
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, names: map[string]struct{}{}}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(j Job) error {
	if err := j.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	if _, dup := s.names[j.Name]; dup {
		return fmt.Errorf("duplicate job %q", j.Name)
	}
	s.names[j.Name] = struct{}{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Every registers fn to run every interval, once immediately at Start too.
// Intervals below one second run every second.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", name)
	}
	return s.Add(Job{Name: name, Schedule: "@every " + interval.String(), Run: fn, RunNow: true})
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := cronLogger{s.logger}
	c := cron.New(cron.WithParser(parser), cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))

	var now []cron.Job
	for _, j := range s.jobs {
		j := j
		job := cron.FuncJob(func() {
			if ctx.Err() != nil {
				return
			}
			j.Run(ctx)
		})
		sched, err := ParseSchedule(j.Schedule)
		if err != nil {
			cancel()
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		// wrap once so the immediate run and the ticks share the skip guard
		wrapped := c.Entry(c.Schedule(sched, job)).WrappedJob
		if j.RunNow {
			now = append(now, wrapped)
		}
		s.logger.Debug("job scheduled", "job", j.Name, "schedule", j.Schedule)
	}
	c.Start()
	for _, w := range now {
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			w.Run()
		}()
	}
	s.c, s.cancel, s.running = c, cancel, true
	return nil
}

// Stop cancels the job context and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.initial.Wait()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
