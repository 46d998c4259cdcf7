package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/metrics"
	"github.com/loykin/acoremgr/internal/role"
)

// Stats is one dashboard reading. Live is false when the world server was
// not running and the figures are zero.
type Stats struct {
	OnlinePlayers int       `json:"online_players"`
	OnlineGMs     int       `json:"online_gms"`
	OpenTickets   int       `json:"open_tickets"`
	Alliance      int       `json:"alliance"`
	Horde         int       `json:"horde"`
	Live          bool      `json:"live"`
	UpdatedAt     time.Time `json:"updated_at"`
	Error         string    `json:"error,omitempty"`
}

// Querier produces Stats. *Source implements it.
type Querier interface {
	Stats(ctx context.Context) (Stats, error)
}

// Poller refreshes Stats while the world server runs.
type Poller struct {
	src     Querier
	running func() bool
	sink    logsink.Sink
	logger  *slog.Logger

	mu     sync.Mutex
	latest Stats
}

func NewPoller(src Querier, worldRunning func() bool, sink logsink.Sink, logger *slog.Logger) *Poller {
	if sink == nil {
		sink = logsink.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{src: src, running: worldRunning, sink: sink, logger: logger}
}

// Poll queries the databases if the world server is running, otherwise it
// resets the figures to zero. Query errors keep the previous figures.
func (p *Poller) Poll(ctx context.Context) Stats {
	if p.running != nil && !p.running() {
		st := Stats{UpdatedAt: time.Now()}
		p.publish(st)
		return st
	}
	st, err := p.src.Stats(ctx)
	if err != nil {
		p.logger.Warn("dashboard query failed", "error", err)
		p.sink.OnLine(role.Manager, fmt.Sprintf("Dashboard query failed: %v", err))
		p.mu.Lock()
		p.latest.Error = err.Error()
		st = p.latest
		p.mu.Unlock()
		return st
	}
	p.publish(st)
	return st
}

func (p *Poller) publish(st Stats) {
	p.mu.Lock()
	p.latest = st
	p.mu.Unlock()
	metrics.SetRealm(st.OnlinePlayers, st.OnlineGMs, st.OpenTickets, st.Alliance, st.Horde)
}

func (p *Poller) Latest() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}
