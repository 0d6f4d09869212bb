// Package store provides the atomic persistence primitives used by every
// state file in agentmux: per-path serialized writes, temp-file + fsync +
// rename commits, and quarantine of corrupt JSON.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store anchors all persistent state under a single root directory.
// All paths passed to Store methods are relative to that root.
type Store struct {
	root string

	// fileLocks serializes writers per path. opLocks serializes whole
	// read-modify-write cycles per path. They are separate maps so a
	// ModifyJSON holding the operation lock can still take the file lock
	// for its write without deadlocking.
	fileLocks *KeyedMutex
	opLocks   *KeyedMutex
}

// New creates a Store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{
		root:      dir,
		fileLocks: NewKeyedMutex(),
		opLocks:   NewKeyedMutex(),
	}
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// Path resolves a relative state file path against the root.
func (s *Store) Path(rel string) string { return filepath.Join(s.root, rel) }

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// AtomicWrite commits data to the file at rel. The bytes are written to a
// unique temp file in the same directory, fsynced, then renamed over the
// target, so readers never observe a partial write. Concurrent writers on
// the same path are serialized; writers on different paths proceed in
// parallel.
func (s *Store) AtomicWrite(rel string, data []byte) error {
	path := s.Path(rel)
	return s.fileLocks.With(rel, func() error {
		return atomicWriteFile(path, data)
	})
}

// AtomicWriteJSON marshals v with indentation and commits it via AtomicWrite.
func (s *Store) AtomicWriteJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	return s.AtomicWrite(rel, data)
}

// WithFileLock runs fn while holding the per-path write lock for key.
func (s *Store) WithFileLock(key string, fn func() error) error {
	return s.fileLocks.With(key, fn)
}

// WithOperationLock runs fn while holding the per-path operation lock for
// key. Used to make read-modify-write cycles exclusive without blocking
// plain writers.
func (s *Store) WithOperationLock(key string, fn func() error) error {
	return s.opLocks.With(key, fn)
}

// ReadJSON reads the JSON file at rel into a value of type T.
//
// A missing file is not an error: def is returned. A file that fails to
// parse is quarantined by copying it to <path>.corrupt.<timestamp> and def
// is returned. Only genuine IO errors (permissions, disk) propagate.
func ReadJSON[T any](s *Store, rel string, def T) (T, error) {
	path := s.Path(rel)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return def, nil
		}
		return def, fmt.Errorf("read %s: %w", rel, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		quarantine(path, data)
		return def, nil
	}
	return v, nil
}

// ModifyJSON atomically applies mutate to the JSON document at rel.
//
// The whole read-modify-write cycle holds the path's operation lock, so
// concurrent ModifyJSON calls on the same file serialize. mutate receives a
// pointer to the decoded value (or def when the file is missing/corrupt)
// and mutates it in place. The lock is released even when mutate fails.
func ModifyJSON[T any](s *Store, rel string, def T, mutate func(*T) error) (T, error) {
	var result T
	err := s.opLocks.With(rel, func() error {
		v, err := ReadJSON(s, rel, def)
		if err != nil {
			return err
		}
		if err := mutate(&v); err != nil {
			return err
		}
		if err := s.AtomicWriteJSON(rel, v); err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func atomicWriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", path, err)
	}

	tmp := fmt.Sprintf("%s.tmp.%s", path, uuid.NewString()[:8])
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}

	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp for %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// quarantine copies a corrupt file aside so the bad bytes survive for
// debugging while readers fall back to defaults.
func quarantine(path string, data []byte) {
	dst := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UnixMilli())
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		slog.Warn("Failed to quarantine corrupt state file",
			"path", path, "quarantine", dst, "error", err)
		return
	}
	slog.Warn("Quarantined corrupt state file", "path", path, "quarantine", dst)
}

// CopyFile duplicates src to dst, used by callers that quarantine or back
// up files outside the JSON read path.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
