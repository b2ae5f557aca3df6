package daemonlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONLinesToLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(dir)
	require.NoError(t, err)
	defer closeFn()

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"key":"value"`)
}

func TestRotateMovesOversizedFileIntoHistory(t *testing.T) {
	dir := t.TempDir()
	w := &rotatingWriter{dir: dir, path: filepath.Join(dir, logFileName)}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, historyDirName), 0o755))
	require.NoError(t, w.open())

	w.written = maxSizeBytes
	_, err := w.Write([]byte("overflow\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(filepath.Join(dir, historyDirName))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	require.Equal(t, "overflow\n", string(data))
}

func TestPruneHistoryKeepsOnlyMostRecent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < keepHistory+3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon-"+string(rune('a'+i))+".log"), []byte("x"), 0o644))
	}
	pruneHistory(dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, keepHistory)
}
