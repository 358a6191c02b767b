// Package report delivers the access summary produced once the supervised
// service is up.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/process"
)

// Link is a named access URL shown to the operator.
type Link struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// Summary describes a run that reached the ready state.
type Summary struct {
	RunID     string          `json:"run_id"`
	State     string          `json:"state"`
	PID       int             `json:"pid"`
	Command   string          `json:"command"`
	Probes    []health.Result `json:"probes"`
	Links     []Link          `json:"links"`
	Stats     *process.Stats  `json:"stats,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

// Healthy reports whether every probe succeeded.
func (s Summary) Healthy() bool { return health.AllOK(s.Probes) }

type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// LogReporter prints the access banner through slog.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, s Summary) error {
	l := r.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "service is up", "run_id", s.RunID, "pid", s.PID, "command", s.Command)
	if !s.Healthy() {
		l.WarnContext(ctx, "some endpoints did not respond as expected; the service may still be starting")
	}
	for _, p := range s.Probes {
		l.InfoContext(ctx, "probe", "result", p.String())
	}
	for _, link := range s.Links {
		l.InfoContext(ctx, "access", "name", link.Name, "url", link.URL)
	}
	l.InfoContext(ctx, "press Ctrl+C to stop")
	return nil
}

// Recorder keeps the most recent summary for later inspection.
type Recorder struct {
	mu   sync.RWMutex
	last *Summary
}

func (r *Recorder) Report(_ context.Context, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := s
	r.last = &cp
	return nil
}

// Last returns the most recent summary, if any.
func (r *Recorder) Last() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Multi delivers to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, s Summary) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
