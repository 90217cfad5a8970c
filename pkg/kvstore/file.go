package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/workflowshelf/workflowshelf/pkg/logger"
)

// File is a Store persisted as a single JSON object on disk. Writes replace the
// whole file atomically (temp file then rename) and are serialized across
// processes with an advisory lock next to the file.
type File struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFile creates a file-backed store at path. The parent directory is created
// if needed; the file itself is created on first write.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &File{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the location of the state file.
func (f *File) Path() string {
	return f.path
}

// Get returns the value stored under key.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.RLock(); err != nil {
		return "", false, fmt.Errorf("lock state file: %w", err)
	}
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores value under key.
func (f *File) Set(key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

// Remove deletes key.
func (f *File) Remove(key string) error {
	return f.update(func(values map[string]string) {
		delete(values, key)
	})
}

func (f *File) update(fn func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	fn(values)
	return f.write(values)
}

// read loads the state map. A missing or corrupt file yields an empty map.
func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil || values == nil {
		logger.Debug("state file %s is corrupt, starting empty: %v", f.path, err)
		return make(map[string]string), nil
	}
	return values, nil
}

func (f *File) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}
