// Package settings provides the key-value settings store and the tools directory resolver.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// KeyToolsDir holds the user override of the tools directory.
const KeyToolsDir = "tools_dir"

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is a string key-value settings store.
type Store interface {
	Get(key, def string) string
	Set(key, value string) error
}

// MemoryStore keeps settings in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value for key or def when unset.
func (s *MemoryStore) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v
	}

	return def
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value

	return nil
}

// FileStore persists settings to a YAML file. Every Set rewrites the file atomically.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// OpenFileStore loads path if it exists. A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}

	if s.values == nil {
		s.values = make(map[string]string)
	}

	return s, nil
}

// Get returns the value for key or def when unset.
func (s *FileStore) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v
	}

	return def
}

// Set stores value under key and flushes the file.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value

	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}

		return err
	}

	return nil
}

func (s *FileStore) flush() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("write settings: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("chmod settings: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}

	return nil
}

// ToolsDirResolver yields the absolute tools directory: the stored override if any,
// the configured default otherwise. The directory is created when missing.
type ToolsDirResolver struct {
	Store   Store
	Default string
}

// Resolve reads the store on every call so runtime changes apply to the next operation.
func (r ToolsDirResolver) Resolve() (string, error) {
	dir := r.Default
	if r.Store != nil {
		dir = r.Store.Get(KeyToolsDir, r.Default)
	}

	if dir == "" {
		return "", errors.New("tools directory is not configured")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve tools dir: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return "", fmt.Errorf("create tools dir: %w", err)
	}

	return abs, nil
}
