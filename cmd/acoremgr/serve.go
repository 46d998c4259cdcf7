package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/acoremgr/internal/alert"
	"github.com/loykin/acoremgr/internal/auth"
	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/console"
	"github.com/loykin/acoremgr/internal/cron"
	"github.com/loykin/acoremgr/internal/cronjob"
	"github.com/loykin/acoremgr/internal/dashboard"
	"github.com/loykin/acoremgr/internal/history"
	"github.com/loykin/acoremgr/internal/history/factory"
	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/manager"
	"github.com/loykin/acoremgr/internal/metrics"
	"github.com/loykin/acoremgr/internal/role"
	"github.com/loykin/acoremgr/internal/server"
	"github.com/loykin/acoremgr/internal/status"
	mgrtls "github.com/loykin/acoremgr/internal/tls"
)

const (
	consoleBacklog  = 200
	shutdownTimeout = 5 * time.Second
	dashboardPing   = 5 * time.Second
)

// daemon is everything serve runs, built from one settings file.
type daemon struct {
	log  *slog.Logger
	path string

	mgr        *manager.Manager
	hub        *console.Hub
	transcript *logsink.Transcript
	status     *status.Poller
	resources  *metrics.ResourceSampler
	dashboard  *dashboard.Poller
	dashSrc    *dashboard.Source
	history    history.Reader
	cronJobs   *cronjob.Manager
	closers    []io.Closer
	sched      *cron.Scheduler
	srv        *http.Server
}

func runServe(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if path == "" {
		path = config.DefaultFile
	}
	s, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("error loading settings: %w", err)
	}
	logger := s.Log.NewSlogger()
	slog.SetDefault(logger)

	d, err := newDaemon(s, path, logger, os.Stdout)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.run(ctx)
}

// newDaemon wires the components. bell receives the crash alert BEL when
// console.bell is set.
func newDaemon(s config.Settings, path string, logger *slog.Logger, bell io.Writer) (*daemon, error) {
	d := &daemon{log: logger, path: path}

	d.hub = console.NewHub(console.Options{
		QueueSize: s.Console.QueueSize,
		Backlog:   consoleBacklog,
		Logger:    logger,
		OnCommand: func(r role.Role, text string) error { return d.mgr.SendCommand(r, text) },
	})
	d.transcript = logsink.NewTranscript(func(r role.Role) io.WriteCloser {
		return s.Log.File.TranscriptWriter(r.String())
	})
	sink := logsink.Multi(logsink.Slog{Logger: logger, Level: slog.LevelInfo}, d.transcript, d.hub)

	var alerter alert.Alerter = alert.NewBell(nil, logger)
	if s.Console.Bell {
		alerter = alert.NewBell(bell, logger)
	}

	hist, err := d.openHistory(s.History)
	if err != nil {
		d.close()
		return nil, err
	}

	d.mgr = manager.New(s, manager.Options{Sink: sink, Alerter: alerter, History: hist, Logger: logger})
	d.status = status.NewPoller(status.ConfigFromSettings(s), d.mgr, sink, logger)
	if s.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("failed to register metrics", "error", err)
		}
		d.resources = metrics.NewResourceSampler(metrics.ResourceConfig{
			Enabled:    true,
			Interval:   s.Metrics.Interval,
			MaxHistory: s.Metrics.MaxHistory,
		}, d.mgr, logger)
	}
	if s.Dashboard.Enabled {
		d.openDashboard(s.Database, sink)
	}

	d.cronJobs = cronjob.NewManager(d.mgr, cronjob.Options{
		RestartCode: func() int { return d.mgr.Settings().ExitCodes.Restart },
		Sink:        sink,
		Logger:      logger,
	})
	if err := d.schedule(s); err != nil {
		d.close()
		return nil, err
	}

	var authMW *auth.Middleware
	if s.Auth.Enabled {
		svc, err := auth.NewAuthService(s.Auth)
		if err != nil {
			d.close()
			return nil, err
		}
		authMW = auth.NewMiddleware(svc)
		if s.Auth.JWTSecret == "" {
			logger.Warn("auth.jwt_secret not set; tokens are invalidated on restart")
		}
	}

	tlsCfg, err := mgrtls.Setup(s.Server.TLS)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("server.tls: %w", err)
	}
	d.srv = server.NewServer(s.Server.Listen, s.Server.BasePath, server.Deps{
		Manager:      d.mgr,
		Status:       d.status,
		Resources:    d.resources,
		Dashboard:    d.dashboard,
		History:      d.history,
		CronJobs:     d.cronJobs,
		Console:      d.hub,
		SettingsPath: path,
		OnSettings:   d.applySettings,
		Metrics:      s.Metrics.Enabled,
		Auth:         authMW,
		Logger:       logger,
	})
	d.srv.TLSConfig = tlsCfg
	return d, nil
}

// openHistory builds one sink per DSN. The first sink that can also be
// read back serves GET /history.
func (d *daemon) openHistory(cfg config.HistoryConfig) (history.Sink, error) {
	if !cfg.Enabled || len(cfg.Sinks) == 0 {
		return nil, nil
	}
	var fan history.Fanout
	for _, dsn := range cfg.Sinks {
		sk, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		fan = append(fan, sk)
		if c, ok := sk.(io.Closer); ok {
			d.closers = append(d.closers, c)
		}
		if r, ok := sk.(history.Reader); ok && d.history == nil {
			d.history = r
		}
	}
	d.log.Info("history enabled", "sinks", len(fan), "readable", d.history != nil)
	return fan, nil
}

// openDashboard leaves the dashboard disabled when the database cannot be
// opened. An unreachable database is only logged; the poller keeps trying.
func (d *daemon) openDashboard(cfg config.DatabaseConfig, sink logsink.Sink) {
	src, err := dashboard.Open(cfg)
	if err != nil {
		d.log.Warn("dashboard disabled", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dashboardPing)
	defer cancel()
	if err := src.Ping(ctx); err != nil {
		d.log.Warn("realm database unreachable", "driver", cfg.Driver, "error", err)
	}
	d.dashSrc = src
	d.dashboard = dashboard.NewPoller(src, d.worldRunning, sink, d.log)
}

func (d *daemon) worldRunning() bool {
	snap, err := d.mgr.Snapshot(role.World)
	return err == nil && snap.State == manager.Running
}

func (d *daemon) schedule(s config.Settings) error {
	d.sched = cron.NewScheduler(d.log)
	if s.Status.Interval > 0 {
		if err := d.sched.Every("status", s.Status.Interval, func(ctx context.Context) {
			d.status.Poll(ctx)
		}); err != nil {
			return err
		}
	}
	if d.resources != nil && s.Metrics.Interval > 0 {
		if err := d.sched.Every("resources", s.Metrics.Interval, d.resources.Sample); err != nil {
			return err
		}
	}
	if d.dashboard != nil && s.Dashboard.Interval > 0 {
		interval := s.Dashboard.Interval
		if err := d.sched.Every("dashboard", interval, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			d.dashboard.Poll(ctx)
		}); err != nil {
			return err
		}
	}
	return d.cronJobs.Register(d.sched, s.CronJobs)
}

// applySettings runs after PUT /settings. Listener, history, dashboard and
// metrics changes need a restart of the daemon.
func (d *daemon) applySettings(s config.Settings) {
	d.status.SetConfig(status.ConfigFromSettings(s))
	d.log.Info("settings saved", "path", d.path)
}

func (d *daemon) run(ctx context.Context) error {
	d.mgr.Banner()
	if err := d.sched.Start(); err != nil {
		d.close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.log.Info("API listening", "addr", d.srv.Addr, "tls", d.srv.TLSConfig != nil)
		var err error
		if d.srv.TLSConfig != nil {
			err = d.srv.ListenAndServeTLS("", "")
		} else {
			err = d.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.srv.Shutdown(sctx)
	})
	err := g.Wait()
	d.close()
	d.log.Info("manager stopped")
	return err
}

func (d *daemon) close() {
	if d.sched != nil {
		d.sched.Stop()
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.mgr != nil {
		d.mgr.Shutdown()
	}
	if d.transcript != nil {
		_ = d.transcript.Close()
	}
	if d.dashSrc != nil {
		_ = d.dashSrc.Close()
	}
	for _, c := range d.closers {
		_ = c.Close()
	}
}
