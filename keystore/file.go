package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileDataStore keeps each value in its own file inside a directory.
type FileDataStore struct {
	dir string
	mu  sync.RWMutex
}

var _ DataStore = (*FileDataStore)(nil)

// NewFileDataStore opens the directory dir, creating it if needed.
func NewFileDataStore(dir string) (*FileDataStore, error) {
	if dir == "" {
		return nil, errors.New("keystore: directory is required")
	}
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", dir, err)
	}
	return &FileDataStore{dir: dir}, nil
}

func (s *FileDataStore) file(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("keystore: invalid key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *FileDataStore) Get(key string, decrypt bool) ([]byte, error) {
	p, err := s.file(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if decrypt && len(data) > 0 {
		if data, err = decryptValue(data); err != nil {
			return nil, fmt.Errorf("keystore: decrypt %s: %w", key, err)
		}
	}
	return data, nil
}

func (s *FileDataStore) Set(key string, encrypt bool, value []byte) error {
	p, err := s.file(key)
	if err != nil {
		return err
	}
	data, err := sealValue(value, encrypt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFileAtomic(p, data, 0600)
}

func (s *FileDataStore) Path() string { return s.dir }
