// Package cache implements the two file-backed JSON caches shared between the
// sync engine (sole writer) and the request path (readers): the tool catalog
// and the MCP server list.
//
// Coherency is mtime-driven: a reader re-parses the file only when its
// modification time has advanced past the last load. Writes go to a temp file
// in the same directory, fsync, then rename, so a concurrent reader sees
// either the old or the new content, never a torn state.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileStore is the shared mtime-coherent JSON file mirror.
// The zero value of T must be a usable "empty" value ([]T or map).
type fileStore[T any] struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	loaded   bool
	lastMod  time.Time
	lastLoad time.Time
	value    T
}

func newFileStore[T any](path string) *fileStore[T] {
	return &fileStore[T]{path: path, logger: slog.Default()}
}

// read returns the cached value, reloading from disk when forced, when
// nothing is loaded yet, or when the file mtime has advanced. Any read or
// parse error resets the mirror and yields the empty value.
func (s *fileStore[T]) read(force bool) T {
	s.mu.RLock()
	if !force && s.loaded {
		if info, err := os.Stat(s.path); err == nil && !info.ModTime().After(s.lastMod) {
			v := s.value
			s.mu.RUnlock()
			return v
		}
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		s.logger.Warn("Cache file unreadable, resetting mirror", "path", s.path, "error", err)
		return s.reset()
	}
	// Re-check under the write lock: another goroutine may have reloaded
	// between RUnlock and Lock.
	if !force && s.loaded && !info.ModTime().After(s.lastMod) {
		return s.value
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Error("Failed to read cache file", "path", s.path, "error", err)
		return s.reset()
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		s.logger.Error("Failed to parse cache file", "path", s.path, "error", err)
		return s.reset()
	}

	s.value = value
	s.loaded = true
	s.lastMod = info.ModTime()
	s.lastLoad = time.Now()
	return s.value
}

// reset clears the in-memory mirror. Caller holds the write lock.
func (s *fileStore[T]) reset() T {
	var zero T
	s.value = zero
	s.loaded = false
	s.lastMod = time.Time{}
	return zero
}

// write atomically replaces the file content and refreshes the mirror.
func (s *fileStore[T]) write(value T) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache content: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename cache file into place: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.loaded = true
	s.lastLoad = time.Now()
	if info, err := os.Stat(s.path); err == nil {
		s.lastMod = info.ModTime()
	}
	return nil
}

// remove deletes the cache file and resets the mirror. Missing files are fine.
func (s *fileStore[T]) remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache file %s: %w", s.path, err)
	}
	return nil
}

// Status describes the in-memory mirror for health reporting.
type Status struct {
	Loaded     bool
	LastLoaded time.Time
	Path       string
}

func (s *fileStore[T]) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{Loaded: s.loaded, LastLoaded: s.lastLoad, Path: s.path}
}
