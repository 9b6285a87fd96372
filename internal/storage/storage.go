package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the penalty counters
type Store interface {
	LoadPenalties() (map[string]int, error)
	SavePenalties(counts map[string]int) error
}

// NoopStore is a no-op implementation when no penalty file is configured
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) LoadPenalties() (map[string]int, error) { return map[string]int{}, nil }
func (s *NoopStore) SavePenalties(_ map[string]int) error   { return nil }

// FileStore keeps the counters in a small JSON document. Writes go to a
// temp file in the same directory and are renamed into place.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// penaltyFile is the on-disk document
type penaltyFile struct {
	Penalties map[string]int `json:"penalties"`
}

// NewFileStore creates a FileStore at path, creating the parent directory
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create penalty directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// LoadPenalties reads the file; a missing file is an empty set
func (s *FileStore) LoadPenalties() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read penalties: %w", err)
	}

	var doc penaltyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode penalties: %w", err)
	}
	if doc.Penalties == nil {
		doc.Penalties = map[string]int{}
	}
	return doc.Penalties, nil
}

// SavePenalties atomically replaces the file
func (s *FileStore) SavePenalties(counts map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(penaltyFile{Penalties: counts}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode penalties: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".penalties-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write penalties: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write penalties: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to save penalties: %w", err)
	}
	return nil
}
