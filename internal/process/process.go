package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Process owns one spawned child. A monitor goroutine started by TryStart is
// the only caller of cmd.Wait; everyone else observes exit through Done.
type Process struct {
	spec      Spec
	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	waitDone  chan struct{} // closed by the monitor once cmd.Wait returns
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec) *Process {
	return &Process{
		spec:     spec,
		waitDone: make(chan struct{}),
		status:   Status{Name: spec.Name, Command: spec.CommandLine(), State: StateNotStarted},
	}
}

// Spec returns the spec the process was created from.
func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// ConfigureCmd builds the *exec.Cmd with work dir, environment, stdio and
// process group attributes applied.
func (p *Process) ConfigureCmd(mergedEnv []string) *exec.Cmd {
	p.mu.Lock()
	spec := p.spec
	p.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)

	if spec.Log.Enabled() {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		p.mu.Lock()
		p.outCloser, p.errCloser = outW, errW
		p.mu.Unlock()
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}
	if cmd.Stdout == nil {
		cmd.Stdout = orWriter(spec.Stdout, os.Stdout)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = orWriter(spec.Stderr, os.Stderr)
	}
	return cmd
}

func orWriter(w io.Writer, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}

// TryStart starts cmd, records the running status and starts the monitor.
func (p *Process) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return err
	}
	p.mu.Lock()
	p.cmd = cmd
	p.status.PID = cmd.Process.Pid
	p.status.State = StateRunning
	p.status.StartedAt = time.Now()
	p.mu.Unlock()

	go p.monitor(cmd)
	return nil
}

// WritePIDFile records the running child in Spec.PIDFile, if configured.
func (p *Process) WritePIDFile() error {
	if p.spec.PIDFile == "" {
		return nil
	}
	pid := p.PID()
	return WritePIDFile(p.spec.PIDFile, PIDInfo{
		PID:       pid,
		Name:      p.spec.Name,
		Command:   p.spec.CommandLine(),
		StartUnix: getProcStartUnix(pid),
	})
}

func (p *Process) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	p.mu.Lock()
	p.status.State = StateExited
	p.status.ExitCode = code
	p.status.ExitErr = err
	p.status.StoppedAt = time.Now()
	pid := p.status.PID
	p.mu.Unlock()
	p.closeWriters()
	removePIDFile(p.spec.PIDFile, pid)
	close(p.waitDone)
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// PID returns the child's pid, or 0 before start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// DetectAlive is a non-blocking liveness probe. A child that exited but has
// not been reaped yet (a zombie on Linux) counts as dead.
func (p *Process) DetectAlive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
	}
	pid := p.PID()
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return pidAlive(pid)
}

// isZombieLinux returns true if /proc/<pid>/status reports state Z.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// ErrStopTimeout means the child was still alive after the stop timeout.
var ErrStopTimeout = errors.New("process did not exit before stop timeout")

// Stop sends SIGTERM to the child's process group and waits up to wait for
// it to exit. When kill is set and the wait elapses, SIGKILL follows.
// Stop returns nil when the child exited, whatever its exit status.
func (p *Process) Stop(wait time.Duration, kill bool) error {
	if !p.DetectAlive() {
		return nil
	}
	pid := p.PID()
	if err := terminateGroup(pid); err != nil {
		return &TerminationError{PID: pid, Err: fmt.Errorf("send SIGTERM: %w", err)}
	}
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(wait):
	}
	if !kill {
		return &TerminationError{PID: pid, Err: fmt.Errorf("%w (%s)", ErrStopTimeout, wait)}
	}
	if err := killGroup(pid); err != nil {
		return &TerminationError{PID: pid, Err: fmt.Errorf("send SIGKILL: %w", err)}
	}
	select {
	case <-p.waitDone:
		return &TerminationError{PID: pid, Err: fmt.Errorf("%w (%s), killed", ErrStopTimeout, wait)}
	case <-time.After(2 * time.Second):
		return &TerminationError{PID: pid, Err: errors.New("process survived SIGKILL")}
	}
}
