package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/urbanclear/bringup/internal/env"
	"github.com/urbanclear/bringup/internal/metrics"
)

// Supervisor owns at most one child process at a time.
// The handle is only changed through Launch and Terminate.
type Supervisor struct {
	mu     sync.Mutex
	proc   *Process
	env    *env.Env
	clock  Clock
	logger *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock injects the clock used for the grace period.
func WithClock(c Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithEnv sets the base environment the child's env is merged onto.
func WithEnv(e *env.Env) Option { return func(s *Supervisor) { s.env = e } }

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{clock: RealClock{}, env: env.New(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Launch spawns spec and waits the grace period. A child that is gone once
// the grace period ends is reported as *EarlyExitError even though the spawn
// itself succeeded. The grace wait is not interrupted by ctx; it is short and
// the caller decides what to do with a cancelled context afterwards.
func (s *Supervisor) Launch(ctx context.Context, spec Spec) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, &LaunchError{Command: spec.CommandLine(), Err: err}
	}

	s.mu.Lock()
	if s.proc != nil && s.proc.DetectAlive() {
		pid := s.proc.PID()
		s.mu.Unlock()
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := checkPIDFile(spec.PIDFile); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	p := New(spec)
	cmd := p.ConfigureCmd(s.env.Merge(spec.Env))
	if err := p.TryStart(cmd); err != nil {
		s.mu.Unlock()
		metrics.IncLaunch(spec.Name, "spawn_failed")
		return nil, &LaunchError{Command: spec.CommandLine(), Err: err}
	}
	s.proc = p
	s.mu.Unlock()

	log := s.logger.With("service", spec.Name, "pid", p.PID())
	log.InfoContext(ctx, "service spawned", "command", spec.CommandLine(), "work_dir", spec.WorkDir, "grace", spec.GracePeriod)
	if err := p.WritePIDFile(); err != nil {
		log.WarnContext(ctx, "could not write pid file", "path", spec.PIDFile, "error", err)
	}

	started := s.clock.Now()
	if spec.GracePeriod > 0 {
		select {
		case <-s.clock.After(spec.GracePeriod):
		case <-p.Done():
		}
	}
	metrics.ObserveGraceWait(spec.Name, s.clock.Now().Sub(started).Seconds())

	if !p.DetectAlive() {
		// The monitor records the exit status; wait for it.
		<-p.Done()
		st := p.Snapshot()
		s.mu.Lock()
		if s.proc == p {
			s.proc = nil
		}
		s.mu.Unlock()
		metrics.IncLaunch(spec.Name, "early_exit")
		log.ErrorContext(ctx, "service exited during grace period", "exit_code", st.ExitCode)
		return nil, &EarlyExitError{
			Command:  spec.CommandLine(),
			PID:      st.PID,
			ExitCode: st.ExitCode,
			Grace:    spec.GracePeriod.String(),
			Err:      st.ExitErr,
		}
	}
	metrics.IncLaunch(spec.Name, "started")
	log.InfoContext(ctx, "service survived grace period")
	return p, nil
}

// IsAlive reports whether the owned child is running. It never blocks.
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	return p != nil && p.DetectAlive()
}

// Current returns the owned process, or nil.
func (s *Supervisor) Current() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Done is closed when the owned child exits. It is nil when no child is owned,
// so selecting on it blocks forever.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.Done()
}

// Terminate asks the owned child to stop and releases the handle. The
// returned error is meant to be logged; the handle is released either way.
func (s *Supervisor) Terminate(ctx context.Context) error {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	spec := p.Spec()
	log := s.logger.With("service", spec.Name, "pid", p.PID())
	log.InfoContext(ctx, "terminating service", "stop_timeout", spec.stopTimeout(), "kill_on_timeout", spec.KillOnTimeout)

	err := p.Stop(spec.stopTimeout(), spec.KillOnTimeout)
	if err != nil {
		metrics.IncTermination(spec.Name, "error")
		return err
	}
	metrics.IncTermination(spec.Name, "ok")
	st := p.Snapshot()
	log.InfoContext(ctx, "service stopped", "exit_code", st.ExitCode)
	return nil
}
