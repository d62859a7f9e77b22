package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveWritesArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	s := NewFileSink(dir)

	require.NoError(t, s.Save(context.Background(), "gmeet-recording-2025-01-02T03-04-05.webm", []byte("abc")))

	data, err := os.ReadFile(filepath.Join(dir, "gmeet-recording-2025-01-02T03-04-05.webm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestSaveNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a.webm", []byte("1")))
	require.NoError(t, s.Save(ctx, "a.webm", []byte("2")))
	require.NoError(t, s.Save(ctx, "a.webm", []byte("3")))

	for name, want := range map[string]string{"a.webm": "1", "a (1).webm": "2", "a (2).webm": "3"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, want, string(data), name)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestSaveRejectsPaths(t *testing.T) {
	s := NewFileSink(t.TempDir())
	for _, name := range []string{"", "..", "../escape.webm", "sub/dir.webm"} {
		assert.ErrorIs(t, s.Save(context.Background(), name, []byte("x")), ErrBadName, name)
	}
}

func TestSaveHonoursCancel(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, "a.webm", []byte("x")), context.Canceled)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
