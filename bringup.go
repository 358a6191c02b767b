// Package bringup brings up the Urbanclear application server on a
// developer machine: it checks that the infrastructure containers are
// running, starts the API server as a supervised child, probes it, prints
// access information and tears it down on interrupt.
package bringup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/urbanclear/bringup/internal/config"
	"github.com/urbanclear/bringup/internal/gate"
	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/history"
	"github.com/urbanclear/bringup/internal/history/factory"
	"github.com/urbanclear/bringup/internal/lifecycle"
	"github.com/urbanclear/bringup/internal/metrics"
	"github.com/urbanclear/bringup/internal/process"
	"github.com/urbanclear/bringup/internal/report"
	"github.com/urbanclear/bringup/internal/server"
)

// Re-export core types for external consumers.

type Config = config.Config

type Summary = report.Summary

type ProbeResult = health.Result

type DependencyReport = gate.Report

type RunState = lifecycle.RunState

type Runtime = gate.Runtime

type HistorySink = history.Sink

// Sentinel errors callers may match with errors.Is.
var (
	ErrRuntimeUnavailable = gate.ErrRuntimeUnavailable
	ErrDependencyMissing  = gate.ErrDependencyMissing
	ErrLaunchFailed       = process.ErrLaunchFailed
	ErrEarlyExit          = process.ErrEarlyExit
	ErrChildExited        = lifecycle.ErrChildExited
)

const serverShutdownTimeout = 5 * time.Second

// LoadConfig reads an optional TOML file over the built-in defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithRuntime replaces the container runtime selected by the config.
func WithRuntime(rt Runtime) Option { return func(o *Orchestrator) { o.runtime = rt } }

func WithHTTPClient(c *http.Client) Option { return func(o *Orchestrator) { o.client = c } }

// WithRegisterer registers metrics with r instead of the default registry.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *Orchestrator) { o.registerer = r } }

// WithSinks adds history sinks in addition to the configured DSNs.
func WithSinks(s ...HistorySink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, s...) }
}

// Orchestrator owns every component for one invocation.
type Orchestrator struct {
	cfg        *Config
	logger     *slog.Logger
	runtime    Runtime
	client     *http.Client
	registerer prometheus.Registerer
	sinks      []HistorySink

	closers []func() error
}

// New builds the components described by cfg. Close must be called when done.
func New(cfg *Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.client == nil {
		o.client = &http.Client{}
	}
	if o.registerer == nil {
		o.registerer = prometheus.DefaultRegisterer
	}
	if err := metrics.Register(o.registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if o.runtime == nil {
		rt, closeFn, err := gate.NewRuntime(cfg.Runtime.Kind, cfg.Runtime.DockerBin)
		if err != nil {
			return nil, err
		}
		o.runtime = rt
		o.closers = append(o.closers, closeFn)
	}

	if len(cfg.History.DSNs) > 0 {
		sinks, err := factory.NewSinks(cfg.History.DSNs)
		if err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("open history sinks: %w", err)
		}
		o.sinks = append(o.sinks, sinks...)
		o.closers = append(o.closers, func() error { return history.CloseAll(sinks) })
	}
	return o, nil
}

// Close releases the runtime client and history sinks.
func (o *Orchestrator) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}

func (o *Orchestrator) gate() *gate.Gate {
	return gate.New(o.runtime,
		gate.WithLogger(o.logger),
		gate.WithQueryTimeout(o.cfg.Runtime.QueryTimeout),
		gate.WithHint(o.cfg.Runtime.Hint),
	)
}

func (o *Orchestrator) verifier() *health.Verifier {
	return health.NewVerifier(o.client, o.logger)
}

// Check runs only the dependency gate.
func (o *Orchestrator) Check(ctx context.Context) (DependencyReport, error) {
	return o.gate().CheckAll(ctx, o.cfg.Prerequisites)
}

// Probe runs only the endpoint probes against an already running service.
func (o *Orchestrator) Probe(ctx context.Context) []ProbeResult {
	return o.verifier().Probe(ctx, o.cfg.Probe.BaseURL, o.cfg.Probe.Paths, o.cfg.Probe.Timeout)
}

// Run performs a full bring-up and blocks until ctx is cancelled (or the
// child exits on its own) and the child has been torn down.
func (o *Orchestrator) Run(ctx context.Context) error {
	baseEnv, err := o.cfg.ServiceEnv()
	if err != nil {
		return fmt.Errorf("load service env: %w", err)
	}
	sup := process.NewSupervisor(process.WithEnv(baseEnv), process.WithLogger(o.logger))

	rec := &report.Recorder{}
	ctl := lifecycle.New(lifecycle.Config{
		RunID:         uuid.NewString(),
		Prerequisites: o.cfg.Prerequisites,
		Service:       o.cfg.ServiceSpec(),
		BaseURL:       o.cfg.Probe.BaseURL,
		ProbePaths:    o.cfg.Probe.Paths,
		ProbeTimeout:  o.cfg.Probe.Timeout,
		Links:         o.cfg.Links,
	}, lifecycle.Deps{
		Gate:       o.gate(),
		Supervisor: sup,
		Verifier:   o.verifier(),
		Reporter:   report.Multi{report.LogReporter{Logger: o.logger}, rec},
		Sinks:      o.sinks,
		Logger:     o.logger,
	})

	if addr := o.cfg.Status.Listen; addr != "" {
		srv, err := server.Serve(addr, server.NewRouter(ctl, rec, "").Handler())
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		o.logger.Info("status server listening", "addr", srv.Addr())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	return ctl.Run(ctx)
}
