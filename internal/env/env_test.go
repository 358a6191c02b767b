package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "api.env")
	require.NoError(t, os.WriteFile(file, []byte("# comment\nexport DB_HOST=db\nPORT=\"7000\"\n"), 0o600))

	e := Isolated().WithPairs([]string{"PORT=6000", "LOG=info"})
	e, err := e.WithFiles(file)
	require.NoError(t, err)

	out := e.Merge([]string{"LOG=debug", "DSN=postgres://${DB_HOST}:${PORT}"})
	assert.Equal(t, []string{
		"DB_HOST=db",
		"DSN=postgres://db:7000",
		"LOG=debug",
		"PORT=7000",
	}, out)
}

func TestWithSetDoesNotMutateReceiver(t *testing.T) {
	base := Isolated()
	_ = base.WithSet("A", "1")
	assert.Empty(t, base.Merge(nil))
}

func TestMergeInheritsOSEnv(t *testing.T) {
	t.Setenv("BRINGUP_ENV_TEST", "from-os")
	out := New().Merge(nil)
	assert.Contains(t, out, "BRINGUP_ENV_TEST=from-os")
}

func TestWithFilesMissing(t *testing.T) {
	_, err := New().WithFiles(filepath.Join(t.TempDir(), "nope.env"))
	require.Error(t, err)
}
