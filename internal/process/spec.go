package process

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/urbanclear/bringup/internal/logger"
)

// Default timings for the supervised service.
const (
	DefaultGracePeriod = 3 * time.Second
	DefaultStopTimeout = 10 * time.Second
)

// Spec describes the single service the supervisor launches.
// When Args is non-empty it is executed directly as an argument vector;
// otherwise Command is interpreted the same way a shell line would be.
type Spec struct {
	Name          string            `json:"name" mapstructure:"name"`
	Command       string            `json:"command" mapstructure:"command"`
	Args          []string          `json:"args" mapstructure:"args"`
	WorkDir       string            `json:"work_dir" mapstructure:"work_dir"`
	Env           []string          `json:"env" mapstructure:"env"`
	PIDFile       string            `json:"pid_file,omitempty" mapstructure:"pid_file"`
	GracePeriod   time.Duration     `json:"grace_period" mapstructure:"grace_period"`       // how long the child must stay up after spawn
	StopTimeout   time.Duration     `json:"stop_timeout" mapstructure:"stop_timeout"`       // wait after SIGTERM before escalating
	KillOnTimeout bool              `json:"kill_on_timeout" mapstructure:"kill_on_timeout"` // send SIGKILL once StopTimeout elapses
	Log           logger.FileConfig `json:"log" mapstructure:"log"`
	Stdout        io.Writer         `json:"-" mapstructure:"-"` // used when Log has no destination
	Stderr        io.Writer         `json:"-" mapstructure:"-"`
}

// Validate checks that the spec can be turned into a command.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("service name is required")
	}
	if len(s.Args) == 0 && strings.TrimSpace(s.Command) == "" {
		return errors.New("service " + s.Name + " requires command or args")
	}
	if s.GracePeriod < 0 {
		return errors.New("service " + s.Name + ": grace_period cannot be negative")
	}
	if s.StopTimeout < 0 {
		return errors.New("service " + s.Name + ": stop_timeout cannot be negative")
	}
	return nil
}

// CommandLine renders the command for logs and error messages.
func (s Spec) CommandLine() string {
	if len(s.Args) > 0 {
		return strings.Join(s.Args, " ")
	}
	return strings.TrimSpace(s.Command)
}

// BuildCommand constructs an *exec.Cmd for the spec.
// Args wins over Command. For Command, a shell is only used when the line
// already invokes one explicitly ("sh -c '...'") or contains shell
// metacharacters.
func (s Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Args[0], s.Args[1:]...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after -c with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}

func (s Spec) stopTimeout() time.Duration {
	if s.StopTimeout <= 0 {
		return DefaultStopTimeout
	}
	return s.StopTimeout
}
