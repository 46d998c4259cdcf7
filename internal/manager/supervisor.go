package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/acoremgr/internal/alert"
	"github.com/loykin/acoremgr/internal/history"
	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/metrics"
	"github.com/loykin/acoremgr/internal/process"
	"github.com/loykin/acoremgr/internal/role"
	"github.com/loykin/acoremgr/internal/stream"
	"github.com/loykin/acoremgr/internal/tail"
)

// RestartPolicy is consulted when a crash exit is observed.
type RestartPolicy struct {
	AutoRestartOnCrash bool `json:"auto_restart_on_crash"`
}

// Config is the per-role configuration snapshot. It is read at start time;
// changes apply to the next start.
type Config struct {
	Executable string
	WorkDir    string
	Args       []string
	Env        []string // complete environment; nil inherits the manager's
	LogFile    string   // file the server writes itself; tailed while running
	Policy     RestartPolicy
	ExitCodes  role.ExitCodes
	Tail       tail.Options
}

// SpawnFunc creates a process handle. process.Spawn in production.
type SpawnFunc func(process.Spec) (*process.Handle, error)

// Options carries the collaborators of a Supervisor. Nil fields get no-op
// or default implementations.
type Options struct {
	Sink    logsink.Sink
	Alerter alert.Alerter
	History history.Sink
	Logger  *slog.Logger
	Spawn   SpawnFunc
}

func (o Options) withDefaults() Options {
	if o.Sink == nil {
		o.Sink = logsink.Nop
	}
	if o.Alerter == nil {
		o.Alerter = alert.Nop
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Spawn == nil {
		o.Spawn = process.Spawn
	}
	return o
}

// Snapshot is a read-only view of a supervisor.
type Snapshot struct {
	Role         role.Role    `json:"role"`
	State        State        `json:"state"`
	PID          int          `json:"pid,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	LastExitCode *int         `json:"last_exit_code,omitempty"`
	LastCrashAt  *time.Time   `json:"last_crash_at,omitempty"`
	Restarts     int          `json:"restarts"`
	Crashes      int          `json:"crashes"`
	Executable   string       `json:"executable"`
	LogFile      string       `json:"log_file,omitempty"`
	Tail         *tail.Cursor `json:"tail,omitempty"`
}

// Supervisor owns the lifecycle of one server role. All state transitions
// happen under mu, so at most one process handle exists at any time. mu is
// never held across console writes.
type Supervisor struct {
	role role.Role
	caps role.Capabilities
	opts Options
	log  *slog.Logger

	ctx    context.Context // parent of the tail loops; cancelled by Close
	cancel context.CancelFunc

	mu        sync.Mutex
	cfg       Config
	state     State
	handle    *process.Handle
	tailer    *tail.Tailer
	lastExit  *int
	lastCrash time.Time
	restarts  int
	crashes   int
	closed    bool
}

// NewSupervisor creates a stopped supervisor for r.
func NewSupervisor(r role.Role, cfg Config, opts Options) *Supervisor {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		role:   r,
		caps:   role.CapabilitiesFor(r),
		opts:   opts,
		log:    opts.Logger.With("role", r.String()),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		state:  Stopped,
	}
}

func (s *Supervisor) Role() role.Role { return s.role }

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the PID of the held process, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// Config returns the current configuration snapshot.
func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Role:       s.role,
		State:      s.state,
		Restarts:   s.restarts,
		Crashes:    s.crashes,
		Executable: s.cfg.Executable,
		LogFile:    s.cfg.LogFile,
	}
	if s.handle != nil {
		snap.PID = s.handle.PID()
		t := s.handle.StartedAt()
		snap.StartedAt = &t
	}
	if s.lastExit != nil {
		c := *s.lastExit
		snap.LastExitCode = &c
	}
	if !s.lastCrash.IsZero() {
		t := s.lastCrash
		snap.LastCrashAt = &t
	}
	if s.tailer != nil {
		c := s.tailer.Cursor()
		snap.Tail = &c
	}
	return snap
}

// Start spawns the server. It is legal from Stopped and Crashed.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%s: supervisor closed", s.role)
	}
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.state != Stopped && s.state != Crashed {
		return fmt.Errorf("%s is %s: %w", s.role.DisplayName(), s.state, ErrAlreadyRunning)
	}
	origin := s.state
	s.setStateLocked(Starting)

	spec := process.Spec{
		Name:    s.role.String(),
		Path:    s.cfg.Executable,
		WorkDir: s.cfg.WorkDir,
		Args:    s.cfg.Args,
		Env:     s.cfg.Env,
		Stdin:   s.caps.Stdin,
	}
	h, err := s.opts.Spawn(spec)
	if err != nil {
		s.setStateLocked(origin)
		s.log.Error("spawn failed", "path", spec.Path, "error", err)
		s.notify("Failed to start %s: %v", s.role.DisplayName(), err)
		return err
	}
	s.handle = h

	emit := func(line string) { s.opts.Sink.OnLine(s.role, line) }
	stream.Attach(h.Stdout(), emit)
	stream.Attach(h.Stderr(), emit)
	s.startTailLocked()

	s.setStateLocked(Running)
	s.log.Info("server started", "pid", h.PID(), "path", spec.Path)
	s.notify("%s started (PID %d).", s.role.DisplayName(), h.PID())
	metrics.IncStart(s.role.String())
	s.record(history.Event{Type: history.EventStart, PID: h.PID()})

	go s.watch(h)
	return nil
}

func (s *Supervisor) startTailLocked() {
	path := s.cfg.LogFile
	if path == "" {
		return
	}
	if s.tailer == nil || s.tailer.Path() != path {
		if s.tailer != nil {
			s.tailer.Stop()
		}
		opts := s.cfg.Tail
		if opts.Logger == nil {
			opts.Logger = s.log
		}
		s.tailer = tail.New(path, opts)
	}
	emit := func(line string) { s.opts.Sink.OnLine(s.role, line) }
	report := func(err error) { s.tailReport(path, err) }
	s.tailer.Start(s.ctx, emit, report)
}

// tailReport runs on the tail goroutine and must not take mu: Stop joins
// that goroutine while holding it.
func (s *Supervisor) tailReport(path string, err error) {
	switch {
	case errors.Is(err, tail.ErrLogFileMissing):
		s.notify("Log file not found: %s", path)
	case errors.Is(err, tail.ErrLogReadTransient):
		s.log.Warn("log read failed", "error", err)
		s.notify("Error reading %s log: %v", s.role.DisplayName(), err)
	default:
		s.log.Warn("tailer error", "error", err)
	}
}

// Stop asks the server to exit. The world server receives "server exit" on
// its console and the state becomes Stopping until the exit is observed.
// Servers without a console are killed.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if (s.state != Running && s.state != Starting) || s.handle == nil {
		err := fmt.Errorf("%s is %s: %w", s.role.DisplayName(), s.state, ErrNotRunning)
		s.mu.Unlock()
		return err
	}
	if !s.caps.Stdin {
		defer s.mu.Unlock()
		return s.killLocked()
	}
	h := s.handle
	s.mu.Unlock()

	// a hung server can block this write; mu stays free so Kill works
	if err := h.RequestGracefulShutdown(role.ShutdownCommand); err != nil {
		s.log.Error("shutdown command failed", "error", err)
		s.notify("Failed to send shutdown to %s: %v", s.role.DisplayName(), err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h || s.state != Running {
		// killed or exited while the command was being written
		return nil
	}
	s.setStateLocked(Stopping)
	s.notify("Stopping %s...", s.role.DisplayName())
	return nil
}

// Kill terminates the process immediately. Legal from any state but Stopped.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return fmt.Errorf("%s is %s: %w", s.role.DisplayName(), s.state, ErrNotRunning)
	}
	return s.killLocked()
}

func (s *Supervisor) killLocked() error {
	h := s.handle
	if h == nil {
		// crashed: nothing left to kill
		s.setStateLocked(Stopped)
		s.log.Info("crashed state cleared")
		return nil
	}
	s.handle = nil
	pid := h.PID()
	if err := h.Terminate(); err != nil {
		s.log.Warn("terminate failed", "pid", pid, "error", err)
	}
	s.setStateLocked(Stopped)
	s.log.Info("server killed", "pid", pid)
	s.notify("%s killed.", s.role.DisplayName())
	metrics.IncStop(s.role.String(), "kill")
	s.record(history.Event{Type: history.EventKill, PID: pid})
	return nil
}

// Restart asks the world server to restart itself after delay and exit with
// exitCode. State is unchanged; the exit watcher handles the exit.
func (s *Supervisor) Restart(delay string, exitCode int) error {
	if !s.caps.RestartCommand {
		return fmt.Errorf("restart %s: %w", s.role.DisplayName(), ErrUnsupported)
	}
	d, err := ValidateDelay(delay)
	if err != nil {
		return err
	}
	h, err := s.liveHandle()
	if err != nil {
		return err
	}
	line := RestartLine(d, exitCode)
	if err := h.WriteLine(line); err != nil {
		s.log.Error("restart command failed", "error", err)
		s.notify("Failed to send restart to %s: %v", s.role.DisplayName(), err)
		return err
	}
	s.log.Info("restart requested", "delay", d, "exit_code", exitCode)
	s.notify("%s restart scheduled in %s.", s.role.DisplayName(), d)
	return nil
}

// SendCommand writes one console command to the running world server.
func (s *Supervisor) SendCommand(text string) error {
	if !s.caps.Stdin {
		return fmt.Errorf("send to %s: %w", s.role.DisplayName(), ErrUnsupported)
	}
	cmd := strings.TrimSpace(text)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, text)
	}
	h, err := s.liveHandle()
	if err != nil {
		return err
	}
	if err := h.WriteLine(cmd); err != nil {
		s.notify("Failed to send command to %s: %v", s.role.DisplayName(), err)
		return err
	}
	s.log.Debug("console command sent", "command", cmd)
	return nil
}

// liveHandle returns the handle of the running server. Console writes go
// through it outside mu.
func (s *Supervisor) liveHandle() (*process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.handle == nil {
		return nil, fmt.Errorf("%s is %s: %w", s.role.DisplayName(), s.state, ErrNotRunning)
	}
	return s.handle, nil
}

// watch blocks until h exits and applies the exit code policy.
func (s *Supervisor) watch(h *process.Handle) {
	code := h.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		// killed, or replaced; the kill already settled the state
		s.log.Debug("stale process exited", "pid", h.PID(), "exit_code", code)
		return
	}
	s.handle = nil
	s.lastExit = &code
	name := s.role.DisplayName()

	switch kind := s.cfg.ExitCodes.Classify(code); kind {
	case role.ExitShutdown:
		s.setStateLocked(Stopped)
		s.log.Info("server stopped", "exit_code", code)
		s.notify("%s stopped.", name)
		metrics.IncStop(s.role.String(), kind.String())
		s.record(history.Event{Type: history.EventStop, PID: h.PID()}.WithExitCode(code))

	case role.ExitRestart:
		s.setStateLocked(Stopped)
		s.log.Info("server requested restart", "exit_code", code)
		s.notify("%s is restarting...", name)
		s.record(history.Event{Type: history.EventRestart, PID: h.PID()}.WithExitCode(code))
		s.autoStartLocked("restart")

	case role.ExitCrash:
		s.setStateLocked(Crashed)
		s.crashes++
		s.lastCrash = time.Now()
		msg := fmt.Sprintf("%s crashed at %s!", name, s.lastCrash.Format("2006-01-02 15:04:05"))
		s.log.Error("server crashed", "exit_code", code, "auto_restart", s.cfg.Policy.AutoRestartOnCrash)
		s.notify("%s", msg)
		s.opts.Alerter.Alert(s.role, msg)
		metrics.IncCrash(s.role.String())
		s.record(history.Event{Type: history.EventCrash, PID: h.PID(), Message: msg}.WithExitCode(code))
		if s.cfg.Policy.AutoRestartOnCrash {
			s.autoStartLocked("crash")
		}

	default:
		s.setStateLocked(Stopped)
		s.log.Info("server exited with unrecognized code", "exit_code", code)
		s.notify("%s exited with unrecognized exit code %d.", name, code)
		metrics.IncStop(s.role.String(), kind.String())
		s.record(history.Event{Type: history.EventStop, PID: h.PID()}.WithExitCode(code))
	}
}

func (s *Supervisor) autoStartLocked(reason string) {
	if s.closed {
		s.log.Info("not restarting, supervisor closed", "reason", reason)
		return
	}
	s.restarts++
	metrics.IncRestart(s.role.String(), reason)
	if err := s.startLocked(); err != nil {
		s.log.Error("automatic restart failed", "reason", reason, "error", err)
	}
}

// UpdateConfig replaces the configuration snapshot. Process settings apply
// on the next start; a changed log path switches the tailer now.
func (s *Supervisor) UpdateConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg.LogFile
	s.cfg = cfg
	if cfg.LogFile == old || s.closed {
		return
	}
	if s.tailer != nil {
		s.tailer.Stop()
		s.tailer = nil
	}
	if s.state.Active() {
		s.startTailLocked()
	}
}

// Close stops the tailer and disables automatic restarts. A running
// process keeps running and its exit watcher is left detached.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	t := s.tailer
	s.mu.Unlock()
	s.cancel()
	if t != nil {
		t.Stop()
	}
}

func (s *Supervisor) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.log.Debug("state transition", "from", from.String(), "to", to.String())
	metrics.RecordStateTransition(s.role.String(), from.String(), to.String())
	metrics.SetCurrentState(s.role.String(), to.String(), StateNames)
}

// notify writes a manager line about this role.
func (s *Supervisor) notify(format string, args ...any) {
	s.opts.Sink.OnLine(role.Manager, fmt.Sprintf(format, args...))
}

// record exports e without blocking the caller.
func (s *Supervisor) record(e history.Event) {
	if s.opts.History == nil {
		return
	}
	e.Role = s.role.String()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.opts.History.Send(ctx, e); err != nil {
			s.log.Warn("history send failed", "event", string(e.Type), "error", err)
		}
	}()
}
