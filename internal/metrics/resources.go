package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/acoremgr/internal/role"
)

var (
	cpuPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "cpu_percent",
		Help:      "CPU usage percentage of the server process since the previous sample.",
	}, []string{"role"})
	memoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "memory_rss_bytes",
		Help:      "Resident set size of the server process.",
	}, []string{"role"})
	numThreads = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "num_threads",
		Help:      "Thread count of the server process.",
	}, []string{"role"})
)

// ResourceSample is one CPU/memory reading for a server process.
type ResourceSample struct {
	Role       role.Role `json:"role"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig holds configuration for resource sampling.
type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled" json:"enabled"`
	Interval   time.Duration `mapstructure:"interval" json:"interval"`
	MaxHistory int           `mapstructure:"max_history" json:"max_history"`
}

// PIDSource reports the PID currently held for a role, or 0.
type PIDSource interface {
	PID(r role.Role) int
}

// PIDFunc adapts a function to PIDSource.
type PIDFunc func(r role.Role) int

func (f PIDFunc) PID(r role.Role) int { return f(r) }

// ResourceSampler reads CPU and memory usage of the supervised servers. It
// only looks at the OS process and never touches supervisor state.
type ResourceSampler struct {
	source PIDSource
	roles  []role.Role
	logger *slog.Logger

	mu      sync.RWMutex
	procs   map[role.Role]*process.Process
	history map[role.Role]*ring
	latest  map[role.Role]ResourceSample
	max     int
}

// NewResourceSampler creates a sampler over the server roles.
func NewResourceSampler(cfg ResourceConfig, source PIDSource, logger *slog.Logger) *ResourceSampler {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceSampler{
		source:  source,
		roles:   role.Servers,
		logger:  logger,
		procs:   make(map[role.Role]*process.Process),
		history: make(map[role.Role]*ring),
		latest:  make(map[role.Role]ResourceSample),
		max:     cfg.MaxHistory,
	}
}

// Sample takes one reading per role that currently has a PID. Roles without
// a process have their gauges and latest reading cleared.
func (s *ResourceSampler) Sample(ctx context.Context) {
	now := time.Now()
	for _, r := range s.roles {
		pid := s.source.PID(r)
		if pid <= 0 {
			s.clear(r)
			continue
		}
		sample, err := s.read(ctx, r, pid, now)
		if err != nil {
			s.logger.Debug("resource sample failed", "role", r.String(), "pid", pid, "error", err)
			s.clear(r)
			continue
		}
		s.record(sample)
	}
}

func (s *ResourceSampler) proc(r role.Role, pid int) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[r]; ok && int(p.Pid) == pid {
		return p, nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		delete(s.procs, r)
		return nil, err
	}
	s.procs[r] = p
	return p, nil
}

func (s *ResourceSampler) read(ctx context.Context, r role.Role, pid int, now time.Time) (ResourceSample, error) {
	p, err := s.proc(r, pid)
	if err != nil {
		return ResourceSample{}, fmt.Errorf("open process: %w", err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ResourceSample{}, fmt.Errorf("memory info: %w", err)
	}
	// first reading for a process is 0; later ones cover the interval since the previous sample
	cpu, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		s.logger.Debug("cpu percent unavailable", "role", r.String(), "pid", pid, "error", err)
		cpu = 0
	}
	threads, err := p.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	return ResourceSample{
		Role:       r,
		PID:        pid,
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		NumThreads: threads,
		Timestamp:  now,
	}, nil
}

func (s *ResourceSampler) record(sample ResourceSample) {
	s.mu.Lock()
	h, ok := s.history[sample.Role]
	if !ok {
		h = newRing(s.max)
		s.history[sample.Role] = h
	}
	h.push(sample)
	s.latest[sample.Role] = sample
	s.mu.Unlock()

	if regOK.Load() {
		name := sample.Role.String()
		cpuPercent.WithLabelValues(name).Set(sample.CPUPercent)
		memoryBytes.WithLabelValues(name).Set(float64(sample.MemoryRSS))
		numThreads.WithLabelValues(name).Set(float64(sample.NumThreads))
	}
}

func (s *ResourceSampler) clear(r role.Role) {
	s.mu.Lock()
	delete(s.procs, r)
	delete(s.latest, r)
	s.mu.Unlock()
	if regOK.Load() {
		name := r.String()
		cpuPercent.DeleteLabelValues(name)
		memoryBytes.DeleteLabelValues(name)
		numThreads.DeleteLabelValues(name)
	}
}

// Latest returns the most recent sample per role that has a live process.
func (s *ResourceSampler) Latest() map[role.Role]ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[role.Role]ResourceSample, len(s.latest))
	for r, v := range s.latest {
		out[r] = v
	}
	return out
}

// History returns the retained samples for r, oldest first.
func (s *ResourceSampler) History(r role.Role) []ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[r]
	if !ok {
		return nil
	}
	return h.slice()
}

// ring is a fixed-size circular buffer of samples.
type ring struct {
	buf   []ResourceSample
	start int
	count int
}

func newRing(n int) *ring { return &ring{buf: make([]ResourceSample, n)} }

func (r *ring) push(v ResourceSample) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) slice() []ResourceSample {
	out := make([]ResourceSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
