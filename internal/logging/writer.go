package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSizeMB = 10
	defaultMaxFiles  = 5
)

var errWriterClosed = errors.New("log writer is closed")

// RotatingWriter appends to a log file and rolls it over by size. The active
// file is path; rolled-over generations are path.1 (newest) up to path.N.
type RotatingWriter struct {
	path  string
	limit int64
	keep  int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens path for appending and creates its directory.
// maxSizeMB and maxFiles follow logging.max_size_mb and logging.max_files:
// non-positive values take the defaults of 10MB and 5 generations.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, size, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &RotatingWriter{
		path:  path,
		limit: int64(maxSizeMB) << 20,
		keep:  maxFiles,
		file:  f,
		size:  size,
	}, nil
}

// Write appends p, rolling over first when p would push a non-empty file
// past the size limit. A record is never split across generations.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, errWriterClosed
	}

	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		// A failed rollover keeps appending to the current file
		_ = w.rollover()
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes the active file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the active file. Later writes fail; closing again is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rollover shifts every generation up by one, dropping the oldest, and
// reopens path empty.
func (w *RotatingWriter) rollover() error {
	if err := os.Remove(w.generation(w.keep)); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := w.keep - 1; i >= 1; i-- {
		if err := os.Rename(w.generation(i), w.generation(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(w.path, w.generation(1)); err != nil {
		return err
	}

	f, size, err := openAppend(w.path)
	if err != nil {
		return err
	}
	old := w.file
	w.file, w.size = f, size
	return old.Close()
}

func (w *RotatingWriter) generation(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func openAppend(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat log file: %w", err)
	}
	return f, info.Size(), nil
}
