// Package gate confirms that prerequisite containers are running before
// anything is launched. It only ever reads from the container runtime.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/urbanclear/bringup/internal/metrics"
)

var (
	// ErrRuntimeUnavailable means the container runtime could not be queried at all.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrDependencyMissing classifies a check where at least one service is not running.
	ErrDependencyMissing = errors.New("dependency missing")
)

// DefaultQueryTimeout bounds a single runtime query.
const DefaultQueryTimeout = 10 * time.Second

// Runtime lists running containers whose name matches filter.
// Implementations must not mutate containers.
type Runtime interface {
	RunningNames(ctx context.Context, filter string) ([]string, error)
	Describe() string
}

// MissingError names every prerequisite that was not observed running.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "prerequisite services not running: " + strings.Join(e.Names, ", ")
}

func (e *MissingError) Is(target error) bool { return target == ErrDependencyMissing }

// Report maps each requested service to whether it was observed running.
// Services keeps the request order.
type Report struct {
	Services []string        `json:"services"`
	Running  map[string]bool `json:"running"`
}

// OK reports whether every requested service is running.
func (r Report) OK() bool {
	return len(r.Missing()) == 0
}

// Missing lists services that were not observed running, in request order.
func (r Report) Missing() []string {
	var out []string
	for _, s := range r.Services {
		if !r.Running[s] {
			out = append(out, s)
		}
	}
	return out
}

// Gate checks a fixed set of services against a Runtime.
type Gate struct {
	runtime Runtime
	logger  *slog.Logger
	timeout time.Duration
	hint    string
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *slog.Logger) Option        { return func(g *Gate) { g.logger = l } }
func WithQueryTimeout(d time.Duration) Option { return func(g *Gate) { g.timeout = d } }

// WithHint sets the operator hint logged when services are missing.
func WithHint(h string) Option { return func(g *Gate) { g.hint = h } }

func New(rt Runtime, opts ...Option) *Gate {
	g := &Gate{runtime: rt, logger: slog.Default(), timeout: DefaultQueryTimeout}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CheckAll queries the runtime once per service name. It succeeds only when
// every name is running; otherwise it returns a *MissingError listing each
// absent service. A runtime failure aborts the check with ErrRuntimeUnavailable.
func (g *Gate) CheckAll(ctx context.Context, names []string) (Report, error) {
	rep := Report{Running: make(map[string]bool, len(names))}
	for _, n := range names {
		if _, seen := rep.Running[n]; seen {
			continue
		}
		rep.Services = append(rep.Services, n)
		rep.Running[n] = false
	}
	if g.runtime == nil {
		metrics.IncGateCheck("runtime_unavailable")
		return rep, fmt.Errorf("%w: no runtime configured", ErrRuntimeUnavailable)
	}

	g.logger.InfoContext(ctx, "checking prerequisite services", "runtime", g.runtime.Describe(), "count", len(rep.Services))
	for _, name := range rep.Services {
		running, err := g.query(ctx, name)
		if err != nil {
			metrics.IncGateCheck("runtime_unavailable")
			g.logger.ErrorContext(ctx, "container runtime query failed", "service", name, "error", err)
			return rep, fmt.Errorf("%w (%s, querying %q): %w", ErrRuntimeUnavailable, g.runtime.Describe(), name, err)
		}
		rep.Running[name] = running
		metrics.SetDependencyUp(name, running)
		if running {
			g.logger.InfoContext(ctx, "service is running", "service", name)
		} else {
			g.logger.ErrorContext(ctx, "service is not running", "service", name)
		}
	}

	if missing := rep.Missing(); len(missing) > 0 {
		metrics.IncGateCheck("missing")
		if g.hint != "" {
			g.logger.InfoContext(ctx, g.hint)
		}
		return rep, &MissingError{Names: missing}
	}
	metrics.IncGateCheck("passed")
	return rep, nil
}

func (g *Gate) query(ctx context.Context, name string) (bool, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	found, err := g.runtime.RunningNames(ctx, name)
	if err != nil {
		return false, err
	}
	return slices.Contains(found, name), nil
}
