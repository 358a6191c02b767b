package gate

import (
	"fmt"
	"strings"
)

// Runtime kinds accepted by NewRuntime.
const (
	KindDocker = "docker"
	KindCLI    = "cli"
)

// NewRuntime builds the Runtime named by kind. binary is only used by the CLI runtime.
// The returned closer must be called when the runtime is no longer needed.
func NewRuntime(kind, binary string) (Runtime, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindDocker:
		rt, err := NewDockerRuntime()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		}
		return rt, rt.Close, nil
	case KindCLI:
		return CLIRuntime{Binary: binary}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown runtime kind %q (want %s or %s)", kind, KindDocker, KindCLI)
	}
}
