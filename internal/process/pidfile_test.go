package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "api.pid")
	require.NoError(t, WritePIDFile(path, PIDInfo{PID: 4321, Name: "api", Command: "uvicorn", StartUnix: 100}))

	info, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, PIDInfo{PID: 4321, Name: "api", Command: "uvicorn", StartUnix: 100}, info)
}

func TestReadPIDFileLegacyAndInvalid(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy.pid")
	require.NoError(t, os.WriteFile(legacy, []byte("77\n"), 0o644))
	info, err := ReadPIDFile(legacy)
	require.NoError(t, err)
	assert.Equal(t, 77, info.PID)
	assert.Empty(t, info.Command)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid\n"), 0o644))
	_, err = ReadPIDFile(bad)
	require.Error(t, err)
}

func TestCheckPIDFileRemovesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	// PID 0 is never a live child.
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))
	require.NoError(t, checkPIDFile(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, checkPIDFile(filepath.Join(t.TempDir(), "absent.pid")))
	require.NoError(t, checkPIDFile(""))
}

func TestCheckPIDFileRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "self.pid")
	require.NoError(t, WritePIDFile(path, PIDInfo{PID: os.Getpid()}))
	require.ErrorIs(t, checkPIDFile(path), ErrAlreadyRunning)
}

func TestSupervisorManagesPIDFile(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "api.pid")
	spec := quietSpec("api", "sleep 30")
	spec.GracePeriod = 50 * time.Millisecond
	spec.PIDFile = path

	sup := newTestSupervisor(WithClock(RealClock{}))
	p, err := sup.Launch(context.Background(), spec)
	require.NoError(t, err)

	info, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.PID(), info.PID)
	assert.True(t, info.Alive())

	second := newTestSupervisor()
	_, err = second.Launch(context.Background(), spec)
	require.ErrorIs(t, err, ErrAlreadyRunning, "a second orchestrator must not start another child")

	require.NoError(t, sup.Terminate(context.Background()))
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcStartOfSelf(t *testing.T) {
	start := getProcStartUnix(os.Getpid())
	require.NotZero(t, start)
	assert.LessOrEqual(t, start, time.Now().Unix())
	assert.Zero(t, getProcStartUnix(0))
}
