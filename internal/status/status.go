// Package status polls the host for the server processes, independent of
// the supervisors, so servers started outside the manager are seen too.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/detector"
	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/metrics"
	"github.com/loykin/acoremgr/internal/role"
)

// Status is the result of one check for one role.
type Status struct {
	Role       role.Role     `json:"role"`
	Running    bool          `json:"running"`
	PID        int           `json:"pid,omitempty"`
	DetectedBy string        `json:"detected_by,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
	Error      string        `json:"error,omitempty"`
}

// Config names what to look for per role.
type Config struct {
	Executables map[role.Role]string
	PIDFiles    map[role.Role]string
	Timeout     time.Duration // per name scan
}

// ConfigFromSettings picks the executables and PID files out of s.
func ConfigFromSettings(s config.Settings) Config {
	c := Config{Executables: map[role.Role]string{}, PIDFiles: map[role.Role]string{}}
	for _, r := range role.Servers {
		exe, _, _, _ := s.ServerPaths(r)
		c.Executables[r] = exe
		c.PIDFiles[r] = s.PIDFile(r)
	}
	return c
}

// Poller checks every server role on demand. It never changes supervisor
// state; it only reads the PIDs the supervisors hold.
type Poller struct {
	pids   metrics.PIDSource
	sink   logsink.Sink
	logger *slog.Logger
	self   int

	mu     sync.Mutex
	cfg    Config
	latest map[role.Role]Status
}

// NewPoller creates a Poller. pids may be nil when no supervisor runs in
// this process.
func NewPoller(cfg Config, pids metrics.PIDSource, sink logsink.Sink, logger *slog.Logger) *Poller {
	if sink == nil {
		sink = logsink.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		pids:   pids,
		sink:   sink,
		logger: logger,
		self:   os.Getpid(),
		cfg:    cfg,
		latest: make(map[role.Role]Status, len(role.Servers)),
	}
}

// SetConfig replaces the lookup configuration for later polls.
func (p *Poller) SetConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// locator picks the detection strategy for r: the PID held by the
// supervisor, else the configured PID file, else the executable name.
func (p *Poller) locator(cfg Config, r role.Role) detector.Locator {
	if p.pids != nil {
		if pid := p.pids.PID(r); pid > 0 {
			return detector.PIDDetector{PID: pid}
		}
	}
	if f := cfg.PIDFiles[r]; f != "" {
		return detector.PIDFileDetector{PIDFile: f}
	}
	return detector.NameDetector{Name: cfg.Executables[r], Timeout: cfg.Timeout, Exclude: p.self}
}

// Poll checks every server role and returns the results in display order.
func (p *Poller) Poll(ctx context.Context) []Status {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	out := make([]Status, 0, len(role.Servers))
	for _, r := range role.Servers {
		if ctx.Err() != nil {
			break
		}
		out = append(out, p.check(cfg, r))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range out {
		prev, seen := p.latest[st.Role]
		p.latest[st.Role] = st
		metrics.SetDetectedRunning(st.Role.String(), st.Running)
		if st.Running == prev.Running && (seen || !st.Running) {
			continue
		}
		if st.Running {
			p.logger.Info("server detected", "role", st.Role.String(), "pid", st.PID, "by", st.DetectedBy)
			p.sink.OnLine(role.Manager, fmt.Sprintf("%s is running (PID %d).", st.Role.DisplayName(), st.PID))
		} else {
			p.logger.Info("server no longer detected", "role", st.Role.String())
			p.sink.OnLine(role.Manager, fmt.Sprintf("%s is not running.", st.Role.DisplayName()))
		}
	}
	return out
}

func (p *Poller) check(cfg Config, r role.Role) Status {
	now := time.Now()
	st := Status{Role: r, CheckedAt: now}
	loc := p.locator(cfg, r)
	st.DetectedBy = loc.Describe()
	pid, err := loc.Locate()
	if err != nil {
		p.logger.Debug("status check failed", "role", r.String(), "by", st.DetectedBy, "error", err)
		st.Error = err.Error()
		return st
	}
	if pid <= 0 {
		return st
	}
	st.Running = true
	st.PID = pid
	if start := detector.StartTime(pid); start > 0 {
		t := time.Unix(start, 0)
		st.StartedAt = &t
		if up := now.Sub(t); up > 0 {
			st.Uptime = up.Truncate(time.Second)
		}
	}
	return st
}

// Latest returns the results of the last Poll, in display order.
func (p *Poller) Latest() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.latest))
	for _, r := range role.Servers {
		if st, ok := p.latest[r]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Get returns the last result for r.
func (p *Poller) Get(r role.Role) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.latest[r]
	return st, ok
}
