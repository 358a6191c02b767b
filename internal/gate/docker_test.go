package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type stubLister struct {
	list []container.Summary
	err  error
	opts container.ListOptions
}

func (s *stubLister) ContainerList(_ context.Context, o container.ListOptions) ([]container.Summary, error) {
	s.opts = o
	return s.list, s.err
}

func TestDockerRuntimeTrimsNamesAndSkipsStopped(t *testing.T) {
	api := &stubLister{list: []container.Summary{
		{Names: []string{"/urbanclear_postgres"}, State: "running"},
		{Names: []string{"/urbanclear_postgres_old"}, State: "exited"},
	}}
	rt := &DockerRuntime{api: api, host: "unix:///var/run/docker.sock"}

	names, err := rt.RunningNames(context.Background(), "urbanclear_postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"urbanclear_postgres"}, names)
	assert.Equal(t, []string{"urbanclear_postgres"}, api.opts.Filters.Get("name"))
	assert.Equal(t, "docker:unix:///var/run/docker.sock", rt.Describe())
}

func TestDockerRuntimeErrorPropagates(t *testing.T) {
	rt := &DockerRuntime{api: &stubLister{err: errors.New("boom")}}
	g := New(rt, WithLogger(quietLogger()))
	_, err := g.CheckAll(context.Background(), []string{"db"})
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestDockerRuntime_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	const name = "bringup_gate_it_redis"
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			Name:         name,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	rt, err := NewDockerRuntime()
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	g := New(rt, WithLogger(quietLogger()))
	_, err = g.CheckAll(ctx, []string{name})
	require.NoError(t, err)

	_, err = g.CheckAll(ctx, []string{name, "bringup_gate_it_absent"})
	var me *MissingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, []string{"bringup_gate_it_absent"}, me.Names)
}
