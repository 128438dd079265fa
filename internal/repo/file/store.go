package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DocumentStore persists whole JSON documents under one directory. Every save
// writes a temp file in the same directory and renames it over the previous
// document, so readers only ever observe a complete file.
type DocumentStore struct {
	dir string

	mu sync.Mutex
}

func NewDocumentStore(dir string) (*DocumentStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("document store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document store dir: %w", err)
	}
	return &DocumentStore{dir: dir}, nil
}

// Load unmarshals the named document into out. A missing document is not an
// error: out is left untouched.
func (s *DocumentStore) Load(name string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read document %s: %w", name, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal document %s: %w", name, err)
	}

	return nil
}

func (s *DocumentStore) Save(name string, in any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp document for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp document for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp document for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp document for %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace document %s: %w", name, err)
	}

	return nil
}

func (s *DocumentStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove document %s: %w", name, err)
	}
	return nil
}

func (s *DocumentStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}
