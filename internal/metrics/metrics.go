package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	dependencyUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bringup",
			Subsystem: "gate",
			Name:      "dependency_up",
			Help:      "Whether a prerequisite container was observed running at the last check (1 = running).",
		}, []string{"service"},
	)
	gateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bringup",
			Subsystem: "gate",
			Name:      "checks_total",
			Help:      "Dependency gate checks by result (passed, missing, runtime_unavailable).",
		}, []string{"result"},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bringup",
			Subsystem: "process",
			Name:      "launches_total",
			Help:      "Launch attempts by result (started, spawn_failed, early_exit).",
		}, []string{"name", "result"},
	)
	graceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bringup",
			Subsystem: "process",
			Name:      "grace_wait_seconds",
			Help:      "Time spent in the post-launch grace window.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bringup",
			Subsystem: "process",
			Name:      "terminations_total",
			Help:      "Termination requests by result (ok, error).",
		}, []string{"name", "result"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bringup",
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Health probe outcomes per endpoint path.",
		}, []string{"path", "outcome"},
	)
	probeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bringup",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Health probe round-trip time per endpoint path.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"path"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bringup",
			Subsystem: "run",
			Name:      "state_transitions_total",
			Help:      "Number of run state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bringup",
			Subsystem: "run",
			Name:      "current_state",
			Help:      "Current run state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		dependencyUp, gateChecks, launches, graceDuration, terminations,
		probes, probeLatency, stateTransitions, currentState,
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

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetDependencyUp(service string, up bool) {
	if regOK.Load() {
		dependencyUp.WithLabelValues(service).Set(boolValue(up))
	}
}

func IncGateCheck(result string) {
	if regOK.Load() {
		gateChecks.WithLabelValues(result).Inc()
	}
}

func IncLaunch(name, result string) {
	if regOK.Load() {
		launches.WithLabelValues(name, result).Inc()
	}
}

func ObserveGraceWait(name string, seconds float64) {
	if regOK.Load() {
		graceDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncTermination(name, result string) {
	if regOK.Load() {
		terminations.WithLabelValues(name, result).Inc()
	}
}

func ObserveProbe(path, outcome string, seconds float64) {
	if regOK.Load() {
		probes.WithLabelValues(path, outcome).Inc()
		probeLatency.WithLabelValues(path).Observe(seconds)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state as the only active run state.
func SetCurrentState(state string, all []string) {
	if regOK.Load() {
		for _, s := range all {
			currentState.WithLabelValues(s).Set(boolValue(s == state))
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
