package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acoremgr"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server spawns.",
		}, []string{"role"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts (restart exit code or crash policy).",
		}, []string{"role", "reason"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of stops by kind (shutdown, kill, unrecognized).",
		}, []string{"role", "kind"},
	)
	serverCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of exits with the crash exit code.",
		}, []string{"role"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"role", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"role", "state"},
	)
	cronJobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cronjob",
			Name:      "runs_total",
			Help:      "Number of scheduled job runs by result (success, failure).",
		}, []string{"cronjob", "result"},
	)
	detectedRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "detected_running",
			Help:      "Whether the status poller found the server process (1) or not (0).",
		}, []string{"role"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		serverStarts, serverRestarts, serverStops, serverCrashes,
		stateTransitions, currentStates, detectedRunning, cronJobRuns,
		cpuPercent, memoryBytes, numThreads,
		playersOnline, gmsOnline, openTickets, factionOnline,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register has succeeded.

func IncStart(role string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(role).Inc()
	}
}

func IncRestart(role, reason string) {
	if regOK.Load() {
		serverRestarts.WithLabelValues(role, reason).Inc()
	}
}

func IncStop(role, kind string) {
	if regOK.Load() {
		serverStops.WithLabelValues(role, kind).Inc()
	}
}

func IncCrash(role string) {
	if regOK.Load() {
		serverCrashes.WithLabelValues(role).Inc()
	}
}

func RecordStateTransition(role, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(role, from, to).Inc()
	}
}

// SetCurrentState marks state as the active one for role among states.
func SetCurrentState(role, state string, states []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(role, s).Set(v)
	}
}

func SetDetectedRunning(role string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		detectedRunning.WithLabelValues(role).Set(v)
	}
}

func IncCronJobRun(name string, ok bool) {
	if !regOK.Load() {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	cronJobRuns.WithLabelValues(name, result).Inc()
}
