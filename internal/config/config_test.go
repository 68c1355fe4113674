package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	c := Default()
	require.True(t, c.JIT.Enabled)
	require.Equal(t, uint32(8), c.JIT.HotLoopThreshold)
	require.Equal(t, "127.0.0.1:4711", c.Debug.ListenAddr)
	require.Equal(t, int64(100), c.RateLimit.Limit)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jit:
  hot_loop_threshold: 32
rate_limit:
  limit: 5
  window: 30s
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(32), c.JIT.HotLoopThreshold)
	require.Equal(t, int64(5), c.RateLimit.Limit)
	require.Equal(t, Duration(30*time.Second), c.RateLimit.Window)
	// Unset fields keep their defaults.
	require.Equal(t, "127.0.0.1:4711", c.Debug.ListenAddr)
	require.True(t, c.JIT.Enabled)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
