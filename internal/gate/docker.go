package gate

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// containerLister is the part of the Docker client the gate needs.
type containerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// DockerRuntime queries the Docker Engine API directly.
type DockerRuntime struct {
	api    containerLister
	closer func() error
	host   string
}

// NewDockerRuntime connects using DOCKER_HOST or, when unset, the first
// Docker socket found in the usual locations.
func NewDockerRuntime() (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if os.Getenv("DOCKER_HOST") == "" {
		if sock := findSocket(); sock != "" {
			opts = append(opts, client.WithHost("unix://"+sock))
		}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &DockerRuntime{api: cli, closer: cli.Close, host: cli.DaemonHost()}, nil
}

func (r *DockerRuntime) Describe() string { return "docker:" + r.host }

// RunningNames lists running containers matching filter. Docker reports
// names with a leading slash which is stripped here.
func (r *DockerRuntime) RunningNames(ctx context.Context, filter string) ([]string, error) {
	list, err := r.api.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", filter)),
	})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range list {
		if c.State != "" && c.State != "running" {
			continue
		}
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
	}
	return names, nil
}

// Close releases the underlying client.
func (r *DockerRuntime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// findSocket returns the first existing Docker socket path, or "".
func findSocket() string {
	candidates := []string{"/var/run/docker.sock"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
