package manager

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/env"
	"github.com/loykin/acoremgr/internal/role"
	"github.com/loykin/acoremgr/internal/tail"
)

// Manager owns one Supervisor per server role.
type Manager struct {
	opts Options
	sups map[role.Role]*Supervisor

	mu       sync.RWMutex
	settings config.Settings
}

// New builds supervisors for every server role from s. Nothing is started.
func New(s config.Settings, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{opts: opts, settings: s, sups: make(map[role.Role]*Supervisor, len(role.Servers))}
	for _, r := range role.Servers {
		m.sups[r] = NewSupervisor(r, SupervisorConfig(s, r), opts)
	}
	return m
}

// SupervisorConfig derives the configuration of role r from s.
func SupervisorConfig(s config.Settings, r role.Role) Config {
	exe, logFile, workDir, args := s.ServerPaths(r)
	var procEnv []string
	if len(s.General.Env) > 0 {
		procEnv = env.New().Merge(s.General.Env)
	}
	return Config{
		Executable: exe,
		WorkDir:    workDir,
		Args:       args,
		Env:        procEnv,
		LogFile:    logFile,
		Policy:     RestartPolicy{AutoRestartOnCrash: s.RestartOnCrash(r)},
		ExitCodes:  s.ExitCodes,
		Tail: tail.Options{
			PollInterval:     s.Tail.PollInterval,
			RetryInterval:    s.Tail.RetryInterval,
			MaxRetryInterval: s.Tail.MaxRetryInterval,
			WaitForFile:      s.Tail.WaitForFile,
		},
	}
}

// Supervisor returns the supervisor of r.
func (m *Manager) Supervisor(r role.Role) (*Supervisor, error) {
	s, ok := m.sups[r]
	if !ok {
		return nil, fmt.Errorf("%q: %w", r.String(), ErrUnknownRole)
	}
	return s, nil
}

func (m *Manager) Start(r role.Role) error {
	s, err := m.Supervisor(r)
	if err != nil {
		return err
	}
	return s.Start()
}

func (m *Manager) Stop(r role.Role) error {
	s, err := m.Supervisor(r)
	if err != nil {
		return err
	}
	return s.Stop()
}

func (m *Manager) Kill(r role.Role) error {
	s, err := m.Supervisor(r)
	if err != nil {
		return err
	}
	return s.Kill()
}

func (m *Manager) Restart(r role.Role, delay string, exitCode int) error {
	s, err := m.Supervisor(r)
	if err != nil {
		return err
	}
	return s.Restart(delay, exitCode)
}

func (m *Manager) SendCommand(r role.Role, text string) error {
	s, err := m.Supervisor(r)
	if err != nil {
		return err
	}
	return s.SendCommand(text)
}

// PID returns the PID held by the supervisor of r, or 0.
func (m *Manager) PID(r role.Role) int {
	s, err := m.Supervisor(r)
	if err != nil {
		return 0
	}
	return s.PID()
}

func (m *Manager) Snapshot(r role.Role) (Snapshot, error) {
	s, err := m.Supervisor(r)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Snapshots returns one snapshot per server role, in display order.
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(role.Servers))
	for _, r := range role.Servers {
		out = append(out, m.sups[r].Snapshot())
	}
	return out
}

func (m *Manager) Settings() config.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// ApplySettings validates s and hands the derived configuration to every
// supervisor. Running servers pick process changes up on their next start.
func (m *Manager) ApplySettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	for _, r := range role.Servers {
		m.sups[r].UpdateConfig(SupervisorConfig(s, r))
	}
	m.opts.Logger.Info("settings applied")
	return nil
}

// Banner writes the configured paths and restart policy to the manager log.
func (m *Manager) Banner() {
	s := m.Settings()
	line := func(format string, args ...any) {
		m.opts.Sink.OnLine(role.Manager, fmt.Sprintf(format, args...))
	}
	line("AzerothCore manager ready.")
	for _, r := range role.Servers {
		exe, logFile, _, args := s.ServerPaths(r)
		line("%s: %s", r.DisplayName(), orNotSet(exe))
		if len(args) > 0 {
			line("%s args: %s", r.DisplayName(), strings.Join(args, " "))
		}
		line("%s log: %s", r.DisplayName(), orNotSet(logFile))
		line("%s restart on crash: %t", r.DisplayName(), s.RestartOnCrash(r))
	}
	line("Exit codes: shutdown=%d crash=%d restart=%d", s.ExitCodes.Shutdown, s.ExitCodes.Crash, s.ExitCodes.Restart)
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// Shutdown stops every tailer. Running servers are left to the OS.
func (m *Manager) Shutdown() {
	for _, r := range role.Servers {
		m.sups[r].Close()
	}
	m.opts.Logger.Info("manager shut down", slog.Int("roles", len(m.sups)))
}
