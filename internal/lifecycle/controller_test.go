package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanclear/bringup/internal/gate"
	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/history"
	"github.com/urbanclear/bringup/internal/process"
	"github.com/urbanclear/bringup/internal/report"
)

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) CheckAll(_ context.Context, names []string) (gate.Report, error) {
	g.calls++
	return gate.Report{Services: names}, g.err
}

type fakeSupervisor struct {
	launchErr  error
	termErr    error
	launches   atomic.Int32
	terminates atomic.Int32
	done       chan struct{}
	doneOnce   sync.Once
}

func newFakeSupervisor() *fakeSupervisor { return &fakeSupervisor{done: make(chan struct{})} }

func (s *fakeSupervisor) Launch(_ context.Context, spec process.Spec) (*process.Process, error) {
	s.launches.Add(1)
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	return process.New(spec), nil
}

func (s *fakeSupervisor) IsAlive() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.launches.Load() > 0
	}
}

func (s *fakeSupervisor) Done() <-chan struct{} { return s.done }

func (s *fakeSupervisor) exit() { s.doneOnce.Do(func() { close(s.done) }) }

func (s *fakeSupervisor) Terminate(context.Context) error {
	s.terminates.Add(1)
	s.exit()
	return s.termErr
}

type fakeVerifier struct {
	results []health.Result
	calls   int
	hook    func()
}

func (v *fakeVerifier) Probe(_ context.Context, _ string, paths []string, _ time.Duration) []health.Result {
	v.calls++
	if v.hook != nil {
		v.hook()
	}
	if v.results != nil {
		return v.results
	}
	out := make([]health.Result, len(paths))
	for i, p := range paths {
		out[i] = health.Result{Path: p, Outcome: health.OutcomeOK, StatusCode: 200}
	}
	return out
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) path() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Run.To)
	}
	return out
}

type harness struct {
	gate *fakeGate
	sup  *fakeSupervisor
	ver  *fakeVerifier
	rec  *report.Recorder
	sink *memSink
	ctl  *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gate: &fakeGate{},
		sup:  newFakeSupervisor(),
		ver:  &fakeVerifier{},
		rec:  &report.Recorder{},
		sink: &memSink{},
	}
	h.ctl = New(Config{
		RunID:         "test-run",
		Prerequisites: []string{"db", "cache"},
		Service:       process.Spec{Name: "api", Command: "sleep 30"},
		BaseURL:       "http://127.0.0.1:8000",
		ProbePaths:    []string{"/health", "/api/v1/traffic/current"},
		ProbeTimeout:  time.Second,
		Links:         []report.Link{{Name: "API docs", URL: "http://localhost:8000/docs"}},
	}, Deps{
		Gate:       h.gate,
		Supervisor: h.sup,
		Verifier:   h.ver,
		Reporter:   h.rec,
		Sinks:      []history.Sink{h.sink},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

// runAsync starts Run and waits until the controller is ready or stopped.
func (h *harness) runAsync(t *testing.T, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctl.Run(ctx) }()
	require.Eventually(t, func() bool {
		s := h.ctl.State()
		return s == StateReady || s == StateStopped
	}, 2*time.Second, 5*time.Millisecond)
	return errCh
}

func wait(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestGateFailureNeverLaunches(t *testing.T) {
	h := newHarness(t)
	h.gate.err = &gate.MissingError{Names: []string{"cache"}}

	err := h.ctl.Run(context.Background())
	require.ErrorIs(t, err, gate.ErrDependencyMissing)
	assert.Contains(t, err.Error(), "cache")
	assert.Zero(t, h.sup.launches.Load())
	assert.Zero(t, h.sup.terminates.Load())
	assert.Zero(t, h.ver.calls)
	assert.Equal(t, StateStopped, h.ctl.State())
	assert.Equal(t, []string{"gating", "stopped"}, h.sink.path())
	assert.Equal(t, history.EventFailure, h.sink.events[1].Type)
}

func TestRuntimeUnavailableStops(t *testing.T) {
	h := newHarness(t)
	h.gate.err = gate.ErrRuntimeUnavailable

	err := h.ctl.Run(context.Background())
	require.ErrorIs(t, err, gate.ErrRuntimeUnavailable)
	assert.Zero(t, h.sup.launches.Load())
}

func TestLaunchFailureStops(t *testing.T) {
	h := newHarness(t)
	h.sup.launchErr = &process.LaunchError{Command: "nope", Err: errors.New("executable file not found")}

	err := h.ctl.Run(context.Background())
	require.ErrorIs(t, err, process.ErrLaunchFailed)
	assert.Zero(t, h.ver.calls)
	assert.Zero(t, h.sup.terminates.Load())
	assert.Equal(t, []string{"gating", "launching", "stopped"}, h.sink.path())
	_, reported := h.rec.Last()
	assert.False(t, reported)
}

func TestEarlyExitStops(t *testing.T) {
	h := newHarness(t)
	h.sup.launchErr = &process.EarlyExitError{Command: "python", ExitCode: 1, Grace: "3s"}

	err := h.ctl.Run(context.Background())
	require.ErrorIs(t, err, process.ErrEarlyExit)
	assert.NotErrorIs(t, err, process.ErrLaunchFailed)
	assert.Zero(t, h.ver.calls)
	assert.Equal(t, StateStopped, h.ctl.State())
	assert.Contains(t, h.ctl.Status().LastError, "python")
}

func TestSignalDrivesOrderlyShutdown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.runAsync(t, ctx)

	require.Equal(t, StateReady, h.ctl.State())
	sum, ok := h.rec.Last()
	require.True(t, ok, "summary reported before waiting")
	assert.True(t, sum.Healthy())
	assert.Equal(t, "test-run", sum.RunID)
	assert.Len(t, sum.Links, 1)

	cancel()
	require.NoError(t, wait(t, errCh))
	assert.Equal(t, int32(1), h.sup.terminates.Load())
	assert.Equal(t, StateStopped, h.ctl.State())
	assert.Equal(t,
		[]string{"gating", "launching", "verifying", "ready", "shutting_down", "stopped"},
		h.sink.path())
}

func TestProbeFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t)
	h.ver.results = []health.Result{
		{Path: "/health", Outcome: health.OutcomeUnreachable, Reason: "connection refused"},
		{Path: "/api/v1/traffic/current", Outcome: health.OutcomeUnexpectedStatus, StatusCode: 500},
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.runAsync(t, ctx)

	assert.Equal(t, StateReady, h.ctl.State())
	sum, ok := h.rec.Last()
	require.True(t, ok)
	assert.False(t, sum.Healthy())
	assert.Len(t, sum.Probes, 2)

	cancel()
	require.NoError(t, wait(t, errCh))
}

func TestTerminateOnceDespiteRepeatedShutdown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.runAsync(t, ctx)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.ctl.Shutdown(context.Background())
		}()
	}
	cancel()
	wg.Wait()

	require.NoError(t, wait(t, errCh))
	assert.Equal(t, int32(1), h.sup.terminates.Load())
	require.NoError(t, h.ctl.Shutdown(context.Background()), "shutdown after stopped is a no-op")
	assert.Equal(t, int32(1), h.sup.terminates.Load())
}

func TestTerminateErrorIsLoggedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.sup.termErr = &process.TerminationError{PID: 1, Err: errors.New("operation not permitted")}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.runAsync(t, ctx)

	cancel()
	require.NoError(t, wait(t, errCh))
	assert.Equal(t, StateStopped, h.ctl.State())
	assert.ErrorIs(t, h.ctl.Shutdown(context.Background()), process.ErrTermination)
}

func TestChildExitWhileReady(t *testing.T) {
	h := newHarness(t)
	errCh := h.runAsync(t, context.Background())

	h.sup.exit()
	err := wait(t, errCh)
	require.ErrorIs(t, err, ErrChildExited)
	assert.Equal(t, StateStopped, h.ctl.State())
	assert.Equal(t, int32(1), h.sup.terminates.Load())
}

func TestShutdownBeforeChildIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctl.Shutdown(context.Background()))
	assert.Equal(t, StateIdle, h.ctl.State())
	assert.Zero(t, h.sup.terminates.Load())
}

func TestShutdownDuringVerification(t *testing.T) {
	h := newHarness(t)
	h.ver.hook = func() {
		go func() { _ = h.ctl.Shutdown(context.Background()) }()
		require.Eventually(t, func() bool { return h.ctl.State() == StateStopped }, time.Second, 5*time.Millisecond)
	}

	err := h.ctl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.sup.terminates.Load())
	_, reported := h.rec.Last()
	assert.False(t, reported)
	assert.Equal(t, []string{"gating", "launching", "verifying", "shutting_down", "stopped"}, h.sink.path())
}

func TestShutdownRacingReadyNeverRejectsTransition(t *testing.T) {
	for i := 0; i < 200; i++ {
		h := newHarness(t)
		h.ver.hook = func() {
			go func() { _ = h.ctl.Shutdown(context.Background()) }()
		}

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctl.Run(context.Background()) }()
		err := wait(t, errCh)

		require.NoError(t, err, "iteration %d", i)
		require.Equal(t, StateStopped, h.ctl.State(), "iteration %d", i)
		require.Equal(t, int32(1), h.sup.terminates.Load(), "iteration %d", i)
		path := h.sink.path()
		require.Equal(t, []string{"shutting_down", "stopped"}, path[len(path)-2:], "iteration %d", i)
	}
}

func TestRunTwiceRejected(t *testing.T) {
	h := newHarness(t)
	h.gate.err = gate.ErrRuntimeUnavailable
	_ = h.ctl.Run(context.Background())
	assert.ErrorIs(t, h.ctl.Run(context.Background()), ErrAlreadyRun)
	assert.Equal(t, 1, h.gate.calls)
}

func TestSinkErrorsDoNotAffectRun(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("disk full")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.runAsync(t, ctx)
	cancel()
	require.NoError(t, wait(t, errCh))
	assert.Len(t, h.sink.path(), 6)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StateGating, StateLaunching))
	assert.False(t, CanTransition(StateIdle, StateLaunching), "launching requires gating")
	assert.False(t, CanTransition(StateGating, StateShuttingDown), "no child exists while gating")
	assert.False(t, CanTransition(StateLaunching, StateShuttingDown))
	for _, s := range []RunState{StateIdle, StateGating, StateLaunching, StateVerifying, StateReady, StateShuttingDown} {
		assert.False(t, CanTransition(StateStopped, s), "stopped is terminal")
	}
	assert.True(t, StateStopped.Terminal())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", RunState(42).String())
}
