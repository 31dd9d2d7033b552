// Package storage provides a filesystem store confined to a base directory.
//
// Every path handed to a Storage is resolved against its base and rejected
// when it would navigate outside of it. Merged group indexes live here, and
// cleanup deletes them only through this package, so a corrupted record can
// never make the cleaner remove an arbitrary directory.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
)

// Storage is a sandboxed view of the filesystem rooted at a base directory.
// It is safe for concurrent use.
type Storage struct {
	base     string
	realBase string
}

// New creates a Storage rooted at base, creating the directory if needed.
func New(base string) (*Storage, error) {
	if base == "" {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "storage base directory must not be empty", nil)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, amerrors.IOError("failed to resolve storage base", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "failed to create storage base", err).
			WithDetail("path", abs)
	}
	realBase, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, amerrors.IOError("failed to resolve storage base", err)
	}
	return &Storage{base: abs, realBase: realBase}, nil
}

// Base returns the absolute base directory.
func (s *Storage) Base() string {
	return s.base
}

// Resolve maps path onto the filesystem. Relative paths are taken relative to
// the base; absolute paths must already lie inside it.
func (s *Storage) Resolve(path string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Join(s.base, path)
	}

	if within(s.base, resolved) || within(s.realBase, resolved) {
		return resolved, nil
	}
	return "", amerrors.New(amerrors.ErrCodePathOutsideStorage,
		fmt.Sprintf("path navigation out of allowed scope: %s", path), nil).
		WithDetail("base", s.base)
}

// Contains reports whether path resolves inside the storage base.
func (s *Storage) Contains(path string) bool {
	_, err := s.Resolve(path)
	return err == nil
}

// Exists reports whether path exists.
func (s *Storage) Exists(path string) (bool, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(resolved)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, amerrors.IOError("failed to stat "+resolved, err)
}

// MkdirAll creates path and any missing parents and returns the resolved path.
func (s *Storage) MkdirAll(path string) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "failed to create directory", err).
			WithDetail("path", resolved)
	}
	return resolved, nil
}

// RemoveAll deletes path recursively. The base directory itself cannot be
// removed, and a path whose lock is held by a reader fails with
// ERR_208_LOCK_FAILED instead of blocking.
func (s *Storage) RemoveAll(path string) error {
	resolved, err := s.Resolve(path)
	if err != nil {
		return err
	}
	if resolved == s.base || resolved == s.realBase {
		return amerrors.New(amerrors.ErrCodePathOutsideStorage, "refusing to remove storage base", nil).
			WithDetail("base", s.base)
	}
	if _, err := os.Lstat(resolved); os.IsNotExist(err) {
		return nil
	}

	// Never wait on a reader; the caller retries later
	lock := NewFileLock(resolved)
	acquired, err := lock.TryLock()
	if err != nil {
		return amerrors.New(amerrors.ErrCodeLockFailed, "failed to lock "+resolved, err)
	}
	if !acquired {
		return amerrors.New(amerrors.ErrCodeLockFailed, resolved+" is in use", nil).
			WithDetail("path", resolved)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	if err := os.RemoveAll(resolved); err != nil {
		return amerrors.IOError("failed to remove "+resolved, err)
	}
	return nil
}

// Read opens path under a shared lock and passes it to fn.
func (s *Storage) Read(path string, fn func(r io.Reader) error) error {
	resolved, err := s.Resolve(path)
	if err != nil {
		return err
	}

	lock := NewFileLock(resolved)
	if err := lock.RLock(); err != nil {
		return amerrors.New(amerrors.ErrCodeLockFailed, "failed to lock "+resolved, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return amerrors.New(amerrors.ErrCodeFileNotFound, "file not found: "+resolved, err)
		}
		return amerrors.IOError("failed to open "+resolved, err)
	}
	defer func() { _ = f.Close() }()

	return fn(f)
}

// ReadFile returns the contents of path, read under a shared lock.
func (s *Storage) ReadFile(path string) ([]byte, error) {
	var data []byte
	err := s.Read(path, func(r io.Reader) error {
		var err error
		data, err = io.ReadAll(r)
		return err
	})
	return data, err
}

// Write replaces path with whatever fn writes, under an exclusive lock.
// Content goes to a temporary file that is renamed over path only when fn
// succeeds, so readers observe either the old or the new file.
func (s *Storage) Write(path string, fn func(w io.Writer) error) error {
	resolved, err := s.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to create directory", err).
			WithDetail("path", dir)
	}

	lock := NewFileLock(resolved)
	if err := lock.Lock(); err != nil {
		return amerrors.New(amerrors.ErrCodeLockFailed, "failed to lock "+resolved, err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved)+".tmp-*")
	if err != nil {
		return amerrors.IOError("failed to create temporary file", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := fn(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return amerrors.IOError("failed to sync "+tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return amerrors.IOError("failed to close "+tmpPath, err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return amerrors.IOError("failed to rename into "+resolved, err)
	}
	committed = true
	return nil
}

// WriteFile atomically replaces path with data.
func (s *Storage) WriteFile(path string, data []byte) error {
	return s.Write(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// within reports whether target is base or lies below it.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
