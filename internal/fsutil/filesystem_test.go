package fsutil

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystemReadWrite(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/data/2024-01-15/frame.fits", []byte("abc"), 0644))

	data, err := m.ReadFile("/data/2024-01-15/frame.fits")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	assert.True(t, m.Exists("/data/2024-01-15/frame.fits"))
	assert.True(t, m.Exists("/data/2024-01-15"), "writing a file should register its parent directory")
	assert.False(t, m.Exists("/data/2024-01-16"))
}

func TestMemoryFileSystemReadDir(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/night/b_SCIENCE.fits", nil, 0644))
	require.NoError(t, m.WriteFile("/night/a_DARK.fits", nil, 0644))
	require.NoError(t, m.WriteFile("/night/sub/deep.fits", nil, 0644))
	require.NoError(t, m.MkdirAll("/night/empty", 0755))

	entries, err := m.ReadDir("/night")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a_DARK.fits", "b_SCIENCE.fits", "empty", "sub"}, names)

	_, err = m.ReadDir("/missing")
	assert.Error(t, err)
}

func TestMemoryFileSystemCreateAndOpen(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	w, err := m.Create("/out/cal.fits")
	require.NoError(t, err)
	_, err = w.Write([]byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := m.Open("/out/cal.fits")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
}

func TestMemoryFileSystemRemove(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/a/b.fits", []byte("x"), 0644))
	require.NoError(t, m.Remove("/a/b.fits"))
	assert.False(t, m.Exists("/a/b.fits"))
	assert.Error(t, m.Remove("/a/b.fits"))
}

func TestOSFileSystemRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var osfs OSFileSystem

	path := dir + "/night.txt"
	require.NoError(t, osfs.WriteFile(path, []byte("2024-01-15"), 0644))
	assert.True(t, osfs.Exists(path))

	data, err := osfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", string(data))

	entries, err := osfs.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "night.txt", entries[0].Name())
}
