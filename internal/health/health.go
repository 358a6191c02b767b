// Package health performs one-shot HTTP reachability probes against the
// supervised service.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/urbanclear/bringup/internal/metrics"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 5 * time.Second

// Outcome classifies a single probe.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeUnexpectedStatus
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnexpectedStatus:
		return "unexpected_status"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	for _, c := range []Outcome{OutcomeOK, OutcomeUnexpectedStatus, OutcomeUnreachable} {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown probe outcome %q", b)
}

// Result is the outcome of probing one path. StatusCode is set only for
// OutcomeUnexpectedStatus and OutcomeOK; Reason only for OutcomeUnreachable.
type Result struct {
	Path       string        `json:"path"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Latency    time.Duration `json:"latency"`
}

func (r Result) OK() bool { return r.Outcome == OutcomeOK }

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeOK:
		return r.Path + ": ok"
	case OutcomeUnexpectedStatus:
		return fmt.Sprintf("%s: unexpected status %d", r.Path, r.StatusCode)
	default:
		return r.Path + ": unreachable (" + r.Reason + ")"
	}
}

// AllOK reports whether every result is OutcomeOK.
func AllOK(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Verifier struct {
	client Doer
	logger *slog.Logger
}

func NewVerifier(client Doer, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{client: client, logger: logger}
}

// Probe issues one GET per path, in order, each bounded by timeout.
// It never retries and never fails as a whole: a missing client or an
// unparsable base URL yields no results and a logged note.
func (v *Verifier) Probe(ctx context.Context, baseURL string, paths []string, timeout time.Duration) []Result {
	if v == nil || v.client == nil {
		slog.Default().Warn("health probe skipped: no http client configured")
		return nil
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		v.logger.Warn("health probe skipped: invalid base url", "base_url", baseURL, "error", err)
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		r := v.probeOne(ctx, base, p, timeout)
		metrics.ObserveProbe(p, r.Outcome.String(), r.Latency.Seconds())
		switch r.Outcome {
		case OutcomeOK:
			v.logger.Info("endpoint ok", "path", p, "latency", r.Latency)
		case OutcomeUnexpectedStatus:
			v.logger.Warn("endpoint returned unexpected status", "path", p, "status", r.StatusCode)
		default:
			v.logger.Warn("endpoint unreachable", "path", p, "reason", r.Reason)
		}
		results = append(results, r)
	}
	return results
}

func (v *Verifier) probeOne(ctx context.Context, base *url.URL, path string, timeout time.Duration) Result {
	res := Result{Path: path}
	target, err := probeURL(base, path)
	if err != nil {
		res.Outcome = OutcomeUnreachable
		res.Reason = "invalid path: " + err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		res.Outcome = OutcomeUnreachable
		res.Reason = err.Error()
		return res
	}
	start := time.Now()
	resp, err := v.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Outcome = OutcomeUnreachable
		res.Reason = reason(err)
		return res
	}
	_ = resp.Body.Close()
	res.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		res.Outcome = OutcomeOK
	} else {
		res.Outcome = OutcomeUnexpectedStatus
	}
	return res
}

// probeURL appends path to base, keeping any base path prefix. A query
// string in path is carried over rather than escaped into the path.
func probeURL(base *url.URL, path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("%q is not relative to the base url", path)
	}
	target := base.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery
	target.Fragment = ""
	return target, nil
}

// reason turns a transport error into short operator-facing text.
func reason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns: " + dnsErr.Err
	}
	return err.Error()
}
