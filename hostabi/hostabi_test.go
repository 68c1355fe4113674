package hostabi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	host := New()
	path := filepath.Join(t.TempDir(), "out.txt")

	wh, err := host.Open(path, "w")
	require.NoError(t, err)
	n, err := host.Write(wh, "hello\nworld")
	require.NoError(t, err)
	require.Equal(t, int64(11), n)
	require.NoError(t, host.Flush(wh))
	require.NoError(t, host.Close(wh))

	rh, err := host.Open(path, "r")
	require.NoError(t, err)
	line, err := host.ReadLine(rh)
	require.NoError(t, err)
	require.Equal(t, "hello\n", line)
	rest, err := host.ReadAll(rh)
	require.NoError(t, err)
	require.Equal(t, "world", rest)
	require.NoError(t, host.Close(rh))
}

func TestOpenRejectsUnknownMode(t *testing.T) {
	host := New()
	_, err := host.Open(filepath.Join(t.TempDir(), "x"), "rw")
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	host := New()
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	ok, err := host.Exists(present)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = host.Exists(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCloseUnknownHandleErrors(t *testing.T) {
	host := New()
	require.Error(t, host.Close(999))
}

func TestPopenReadCapturesStdout(t *testing.T) {
	host := New()
	h, err := host.Popen("echo hi", "r")
	require.NoError(t, err)
	out, err := host.ReadAll(h)
	require.NoError(t, err)
	require.Equal(t, "hi\n", out)
	require.NoError(t, host.Close(h))
}

func TestCloseAllClosesEveryHandle(t *testing.T) {
	host := New()
	path := filepath.Join(t.TempDir(), "a.txt")
	h, err := host.Open(path, "w")
	require.NoError(t, err)
	host.CloseAll()
	_, err = host.Write(h, "x")
	require.Error(t, err)
}
