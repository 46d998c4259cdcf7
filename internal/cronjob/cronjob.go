// Package cronjob runs scheduled maintenance on the supervised servers:
// timed restarts, console announcements, start and stop windows.
package cronjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/acoremgr/internal/cron"
	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/metrics"
	"github.com/loykin/acoremgr/internal/role"
)

var ErrNotFound = errors.New("cronjob not found")

// Target is the subset of the server manager a cronjob drives.
type Target interface {
	Start(r role.Role) error
	Stop(r role.Role) error
	Restart(r role.Role, delay string, exitCode int) error
	SendCommand(r role.Role, text string) error
}

// Status is the run record of one cronjob.
type Status struct {
	LastScheduleTime   *time.Time `json:"last_schedule_time,omitempty"`
	LastSuccessfulTime *time.Time `json:"last_successful_time,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	Runs               int        `json:"runs"`
	Failures           int        `json:"failures"`
}

// Info is what the API reports for a cronjob.
type Info struct {
	Spec   Spec       `json:"spec"`
	Status Status     `json:"status"`
	Next   *time.Time `json:"next,omitempty"`
}

type cronJob struct {
	spec   Spec
	status Status
}

// Manager holds the configured cronjobs and executes them against a Target.
type Manager struct {
	target      Target
	restartCode func() int
	sink        logsink.Sink
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	jobs map[string]*cronJob
}

type Options struct {
	// RestartCode supplies the exit code for restarts that do not set one.
	RestartCode func() int
	// Sink receives a manager line for each run.
	Sink   logsink.Sink
	Logger *slog.Logger
}

func NewManager(target Target, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RestartCode == nil {
		code := role.DefaultExitCodes().Restart
		opts.RestartCode = func() int { return code }
	}
	return &Manager{
		target:      target,
		restartCode: opts.RestartCode,
		sink:        opts.Sink,
		logger:      opts.Logger.With("component", "cronjob"),
		now:         time.Now,
		jobs:        map[string]*cronJob{},
	}
}

// Register validates specs and adds one scheduler entry per spec.
// Suspended jobs are scheduled too and skip their ticks.
func (m *Manager) Register(s *cron.Scheduler, specs []Spec) error {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return err
		}
		m.mu.Lock()
		if _, dup := m.jobs[spec.Name]; dup {
			m.mu.Unlock()
			return fmt.Errorf("duplicate cronjob %q", spec.Name)
		}
		m.jobs[spec.Name] = &cronJob{spec: spec}
		m.mu.Unlock()

		name := spec.Name
		err := s.Add(cron.Job{
			Name:     "cronjob:" + name,
			Schedule: spec.Schedule,
			Run: func(ctx context.Context) {
				if err := m.tick(name); err != nil {
					m.logger.Warn("cronjob failed", "cronjob", name, "error", err)
				}
			},
		})
		if err != nil {
			return err
		}
		m.logger.Info("cronjob registered", "cronjob", name, "schedule", spec.Schedule, "action", spec.Action)
	}
	return nil
}

// Update replaces the definitions of already registered jobs. Schedules are
// fixed at registration; added or removed jobs take effect on the next daemon
// start.
func (m *Manager) Update(specs []Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, spec := range specs {
		seen[spec.Name] = true
		j, ok := m.jobs[spec.Name]
		if !ok {
			m.logger.Warn("new cronjob needs a daemon restart", "cronjob", spec.Name)
			continue
		}
		if spec.Schedule != j.spec.Schedule {
			m.logger.Warn("cronjob schedule change needs a daemon restart", "cronjob", spec.Name)
			spec.Schedule = j.spec.Schedule
		}
		j.spec = spec
	}
	for name, j := range m.jobs {
		if !seen[name] && !j.spec.Suspend {
			m.logger.Warn("removed cronjob suspended until daemon restart", "cronjob", name)
			j.spec.Suspend = true
		}
	}
}

func (m *Manager) tick(name string) error {
	m.mu.Lock()
	j, ok := m.jobs[name]
	suspended := ok && j.spec.Suspend
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if suspended {
		m.logger.Debug("cronjob suspended, skipping", "cronjob", name)
		return nil
	}
	return m.Run(name)
}

// Run executes the named job now, regardless of its schedule or suspension.
func (m *Manager) Run(name string) error {
	m.mu.Lock()
	j, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	spec := j.spec
	now := m.now()
	j.status.LastScheduleTime = &now
	j.status.Runs++
	m.mu.Unlock()

	err := m.execute(spec)

	m.mu.Lock()
	if err != nil {
		j.status.Failures++
		j.status.LastError = err.Error()
	} else {
		done := m.now()
		j.status.LastSuccessfulTime = &done
		j.status.LastError = ""
	}
	m.mu.Unlock()
	metrics.IncCronJobRun(spec.Name, err == nil)

	if err != nil {
		m.line("Scheduled job %s failed: %v", spec.Name, err)
		return err
	}
	m.line("Scheduled job %s: %s", spec.Name, describe(spec))
	return nil
}

func (m *Manager) execute(spec Spec) error {
	r, err := spec.ServerRole()
	if err != nil {
		return err
	}
	switch spec.Action {
	case ActionStart:
		return m.target.Start(r)
	case ActionStop:
		return m.target.Stop(r)
	case ActionRestart:
		code := m.restartCode()
		if spec.ExitCode != nil {
			code = *spec.ExitCode
		}
		return m.target.Restart(r, spec.Delay, code)
	case ActionCommand:
		return m.target.SendCommand(r, spec.Command)
	default:
		return fmt.Errorf("unknown action %q", spec.Action)
	}
}

func describe(s Spec) string {
	switch s.Action {
	case ActionRestart:
		return "restart in " + s.Delay
	case ActionCommand:
		return "sent " + s.Command
	default:
		return s.Action
	}
}

func (m *Manager) line(format string, args ...any) {
	if m.sink != nil {
		m.sink.OnLine(role.Manager, fmt.Sprintf(format, args...))
	}
}

// List returns every registered job sorted by name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Info, 0, len(m.jobs))
	for _, j := range m.jobs {
		info := Info{Spec: j.spec, Status: j.status}
		if !j.spec.Suspend {
			if sched, err := cron.ParseSchedule(j.spec.Schedule); err == nil {
				next := sched.Next(now)
				info.Next = &next
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Spec.Name < out[b].Spec.Name })
	return out
}

// Get returns one job by name.
func (m *Manager) Get(name string) (Info, error) {
	for _, info := range m.List() {
		if info.Spec.Name == name {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%q: %w", name, ErrNotFound)
}
