package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"wa-recall/pkg/recall"
)

// FileStore is a recall.SettingsStore persisted as one JSON document
// mapping scope to key to value.
//
// The whole document is rewritten through a temp file and rename on every Set.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	doc    map[string]map[string]string
}

// NewFileStore creates a store for path. The file is read lazily.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get returns one value or recall.ErrSettingNotFound.
func (s *FileStore) Get(_ context.Context, scope string, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return "", err
	}
	value, ok := s.doc[scope][key]
	if !ok {
		return "", fmt.Errorf("get setting %s/%s: %w", scope, key, recall.ErrSettingNotFound)
	}

	return value, nil
}

// Set creates or replaces one value and persists the document.
func (s *FileStore) Set(_ context.Context, scope string, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	values := s.doc[scope]
	if values == nil {
		values = make(map[string]string)
		s.doc[scope] = values
	}
	previous, existed := values[key]
	values[key] = value

	if err := writeJSONAtomic(s.path, s.doc); err != nil {
		if existed {
			values[key] = previous
		} else {
			delete(values, key)
		}
		return fmt.Errorf("set setting %s/%s: %w", scope, key, err)
	}

	return nil
}

// All returns a copy of every key/value stored under scope.
func (s *FileStore) All(_ context.Context, scope string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(s.doc[scope]))
	for key, value := range s.doc[scope] {
		values[key] = value
	}

	return values, nil
}

// loadLocked reads the document once. A missing file starts empty; a corrupt
// one is an error so it is never silently overwritten.
func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	doc := make(map[string]map[string]string)
	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read settings file %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode settings file %s: %w", s.path, err)
		}
		if doc == nil {
			doc = make(map[string]map[string]string)
		}
	}

	s.doc = doc
	s.loaded = true

	return nil
}

// writeJSONAtomic writes value next to path and renames it into place.
func writeJSONAtomic(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}
