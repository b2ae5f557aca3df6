// Package daemonlog installs the daemon's process-wide structured logger
// (spec §6 data dir layout: <root>/.daemon/{daemon.log,log_history/}),
// writing JSON lines via log/slog exactly as the teacher does throughout
// its gateway and http packages.
package daemonlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	historyDirName = "log_history"
	logFileName    = "daemon.log"
	// maxSizeBytes rotates daemon.log once it crosses this size, keeping
	// individual history files to a skimmable length.
	maxSizeBytes = 10 * 1024 * 1024
	// keepHistory bounds log_history/ to the most recent N rotated files.
	keepHistory = 5
)

// rotatingWriter is an io.Writer that rotates <root>/.daemon/daemon.log
// into log_history/ once it exceeds maxSizeBytes, pruning older history
// files beyond keepHistory. No third-party rotation library is used here:
// the teacher's own logging never carries one (its indirect zerolog pull
// is never imported), so this is a deliberate, narrow stdlib rotation.
type rotatingWriter struct {
	mu      sync.Mutex
	dir     string
	path    string
	file    *os.File
	written int64
}

// New installs a process-wide JSON slog.Logger writing to
// <root>/.daemon/daemon.log, rotating into <root>/.daemon/log_history/.
// Returns the logger and a close function the daemon shell should defer.
func New(daemonDir string) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Join(daemonDir, historyDirName), 0o755); err != nil {
		return nil, nil, fmt.Errorf("daemonlog: create log_history: %w", err)
	}
	w := &rotatingWriter{dir: daemonDir, path: filepath.Join(daemonDir, logFileName)}
	if err := w.open(); err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler)
	return logger, w.Close, nil
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("daemonlog: open %s: %w", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("daemonlog: stat %s: %w", w.path, err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > maxSizeBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("daemonlog: close before rotate: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	rotated := filepath.Join(w.dir, historyDirName, fmt.Sprintf("daemon-%s.log", stamp))
	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("daemonlog: rotate: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	pruneHistory(filepath.Join(w.dir, historyDirName))
	return nil
}

func pruneHistory(historyDir string) {
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > keepHistory {
		_ = os.Remove(filepath.Join(historyDir, names[0]))
		names = names[1:]
	}
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

var _ io.Writer = (*rotatingWriter)(nil)
