package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLIRuntime shells out to the docker (or compatible, e.g. podman) CLI:
//
//	docker ps --filter name=<filter> --format {{.Names}}
//
// and reads one container name per line.
type CLIRuntime struct {
	Binary string
}

func (r CLIRuntime) binary() string {
	if strings.TrimSpace(r.Binary) == "" {
		return "docker"
	}
	return r.Binary
}

func (r CLIRuntime) Describe() string { return "cli:" + r.binary() }

func (r CLIRuntime) RunningNames(ctx context.Context, filter string) ([]string, error) {
	// #nosec G204
	cmd := exec.CommandContext(ctx, r.binary(), "ps", "--filter", "name="+filter, "--format", "{{.Names}}")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return ParseNames(string(out)), nil
}

// ParseNames splits newline-delimited runtime output into trimmed names.
func ParseNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}
