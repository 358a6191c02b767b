// Package lifecycle sequences one orchestrator run: gate the prerequisites,
// launch the child, probe it, report, wait for a stop signal and tear down.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/urbanclear/bringup/internal/gate"
	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/history"
	"github.com/urbanclear/bringup/internal/metrics"
	"github.com/urbanclear/bringup/internal/process"
	"github.com/urbanclear/bringup/internal/report"
)

var (
	// ErrChildExited means the child stopped on its own while the run was ready.
	ErrChildExited = errors.New("supervised process exited")
	// ErrAlreadyRun is returned when Run is called more than once.
	ErrAlreadyRun = errors.New("controller already ran")
)

const historyTimeout = 5 * time.Second

type Gate interface {
	CheckAll(ctx context.Context, names []string) (gate.Report, error)
}

type Supervisor interface {
	Launch(ctx context.Context, spec process.Spec) (*process.Process, error)
	IsAlive() bool
	Done() <-chan struct{}
	Terminate(ctx context.Context) error
}

type Verifier interface {
	Probe(ctx context.Context, baseURL string, paths []string, timeout time.Duration) []health.Result
}

// Config is what a single run needs to know.
type Config struct {
	RunID         string
	Prerequisites []string
	Service       process.Spec
	BaseURL       string
	ProbePaths    []string
	ProbeTimeout  time.Duration
	Links         []report.Link
}

// Deps are the collaborators a Controller drives. Reporter, Sinks and
// Logger are optional.
type Deps struct {
	Gate       Gate
	Supervisor Supervisor
	Verifier   Verifier
	Reporter   report.Reporter
	Sinks      []history.Sink
	Logger     *slog.Logger
	Now        func() time.Time
}

// Status is a point-in-time view of the run.
type Status struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Command   string    `json:"command"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu      sync.RWMutex
	state   RunState
	since   time.Time
	pid     int
	lastErr error

	started bool

	stopMu   sync.Mutex
	stopping bool
	stopErr  error
	stopCh   chan struct{}
}

func New(cfg Config, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.With("run_id", cfg.RunID),
		stopCh: make(chan struct{}),
	}
	c.since = deps.Now()
	metrics.SetCurrentState(StateIdle.String(), StateNames())
	return c
}

func (c *Controller) State() RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		RunID:   c.cfg.RunID,
		State:   c.state,
		PID:     c.pid,
		Command: c.cfg.Service.CommandLine(),
		Since:   c.since,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Run performs one full run and blocks until the child has been torn down.
// Cancelling ctx is the stop signal; it only ends the wait in the ready
// state. Gating, launching and verification always run to completion.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyRun
	}
	c.started = true
	c.mu.Unlock()

	work := context.WithoutCancel(ctx)

	if err := c.transition(StateGating, nil); err != nil {
		return err
	}
	if _, err := c.deps.Gate.CheckAll(work, c.cfg.Prerequisites); err != nil {
		err = fmt.Errorf("dependency check failed: %w", err)
		_ = c.transition(StateStopped, err)
		return err
	}

	if err := c.transition(StateLaunching, nil); err != nil {
		return err
	}
	proc, err := c.deps.Supervisor.Launch(work, c.cfg.Service)
	if err != nil {
		err = fmt.Errorf("launch %s: %w", c.cfg.Service.Name, err)
		_ = c.transition(StateStopped, err)
		return err
	}
	c.mu.Lock()
	c.pid = proc.PID()
	c.mu.Unlock()

	if err := c.transition(StateVerifying, nil); err != nil {
		return err
	}
	results := c.deps.Verifier.Probe(work, c.cfg.BaseURL, c.cfg.ProbePaths, c.cfg.ProbeTimeout)
	if !health.AllOK(results) {
		c.log.Warn("service did not pass every probe; continuing", "probes", len(results))
	}
	if ok, err := c.enterReady(); err != nil {
		return err
	} else if !ok {
		_ = c.shutdown(work, nil)
		return nil
	}
	c.report(work, results)

	var cause error
	select {
	case <-ctx.Done():
		c.log.Info("stop requested", "cause", context.Cause(ctx))
	case <-c.stopCh:
		_ = c.shutdown(work, nil)
		return nil
	case <-c.deps.Supervisor.Done():
		if c.stopRequested() {
			_ = c.shutdown(work, nil)
			return nil
		}
		st := proc.Snapshot()
		cause = fmt.Errorf("%w: %s (pid %d) exit code %d", ErrChildExited, c.cfg.Service.Name, st.PID, st.ExitCode)
		c.log.Error("supervised process exited while ready", "pid", st.PID, "exit_code", st.ExitCode)
	}

	_ = c.shutdown(work, cause)
	return cause
}

// Shutdown tears down the child if one was started. It is safe to call more
// than once and from any goroutine; only the first call that finds a child
// terminates it. Before a child exists it does nothing.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.shutdown(ctx, nil)
}

func (c *Controller) shutdown(ctx context.Context, cause error) error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stopping {
		return c.stopErr
	}
	switch c.State() {
	case StateVerifying, StateReady:
	default:
		return nil
	}
	c.stopping = true
	close(c.stopCh)

	_ = c.transition(StateShuttingDown, cause)
	if err := c.deps.Supervisor.Terminate(ctx); err != nil {
		c.log.Error("terminate failed", "error", err)
		c.stopErr = err
	}
	_ = c.transition(StateStopped, nil)
	c.log.Info("shutdown complete")
	return c.stopErr
}

// enterReady moves to Ready unless a stop was already requested. It holds
// stopMu so a concurrent Shutdown either sees Verifying and tears down
// first, or sees Ready.
func (c *Controller) enterReady() (bool, error) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stopping {
		return false, nil
	}
	if err := c.transition(StateReady, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Controller) report(ctx context.Context, results []health.Result) {
	if c.deps.Reporter == nil {
		return
	}
	c.mu.RLock()
	pid := c.pid
	c.mu.RUnlock()
	s := report.Summary{
		RunID:     c.cfg.RunID,
		State:     StateReady.String(),
		PID:       pid,
		Command:   c.cfg.Service.CommandLine(),
		Probes:    results,
		Links:     c.cfg.Links,
		StartedAt: c.since,
	}
	if pid > 0 {
		if st, err := process.ReadStats(pid); err == nil {
			s.Stats = &st
		}
	}
	if err := c.deps.Reporter.Report(ctx, s); err != nil {
		c.log.Warn("report delivery failed", "error", err)
	}
}

// transition moves to next, recording metrics and history. cause, if set,
// marks the transition as a failure.
func (c *Controller) transition(next RunState, cause error) error {
	c.mu.Lock()
	prev := c.state
	if !CanTransition(prev, next) {
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
		c.log.Error("state transition rejected", "error", err)
		return err
	}
	c.state = next
	c.since = c.deps.Now()
	if cause != nil {
		c.lastErr = cause
	}
	pid := c.pid
	at := c.since
	c.mu.Unlock()

	attrs := []any{"from", prev.String(), "to", next.String()}
	if cause != nil {
		c.log.Error("state changed", append(attrs, "error", cause)...)
	} else {
		c.log.Info("state changed", attrs...)
	}
	metrics.RecordStateTransition(prev.String(), next.String())
	metrics.SetCurrentState(next.String(), StateNames())

	e := history.Event{
		Type:       history.EventTransition,
		OccurredAt: at,
		Run: history.Run{
			ID:      c.cfg.RunID,
			From:    prev.String(),
			To:      next.String(),
			PID:     pid,
			Command: c.cfg.Service.CommandLine(),
		},
	}
	if cause != nil {
		e.Type = history.EventFailure
		e.Run.Detail = cause.Error()
	}
	c.emit(e)
	return nil
}

func (c *Controller) emit(e history.Event) {
	for _, s := range c.deps.Sinks {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := s.Send(ctx, e); err != nil {
			c.log.Warn("history sink send failed", "error", err)
		}
		cancel()
	}
}
