package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// readJSONFile loads a JSON file into v. Files are parsed as JSON5 so
// hand-edited configs with comments or trailing commas still load.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json5.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONFile writes v as indented JSON via a temp file and rename, so a
// crash mid-write never leaves a truncated file behind.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SettingsStore persists Settings as settings.json under the data root.
type SettingsStore struct {
	path string

	mu  sync.Mutex
	cur Settings
}

// NewSettingsStore loads settings.json from dir, creating it with defaults
// when missing.
func NewSettingsStore(dir string) (*SettingsStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &SettingsStore{path: filepath.Join(dir, "settings.json")}

	if err := readJSONFile(s.path, &s.cur); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.cur = DefaultSettings()
		if err := writeJSONFile(s.path, s.cur); err != nil {
			return nil, err
		}
		return s, nil
	}

	s.cur.Normalize()
	return s, nil
}

// Get returns a deep copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}

// Update applies fn to a copy of the settings and persists the result.
// The stored state is untouched when fn or the write fails.
func (s *SettingsStore) Update(fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Clone()
	if err := fn(&next); err != nil {
		return Settings{}, err
	}
	next.Normalize()

	if err := writeJSONFile(s.path, next); err != nil {
		return Settings{}, err
	}
	s.cur = next
	return next.Clone(), nil
}

// Path returns the backing file path.
func (s *SettingsStore) Path() string {
	return s.path
}
