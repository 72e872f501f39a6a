package keystore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ConfigDataStore keeps all values in one config file.
type ConfigDataStore struct {
	path string

	mu   sync.RWMutex
	recs records
}

var _ DataStore = (*ConfigDataStore)(nil)

// NewConfigDataStore opens the config file at path. A missing file is created on the
// first Set. The path may start with ~/ and contain environment variables.
func NewConfigDataStore(path string) (*ConfigDataStore, error) {
	path = expandPath(path)
	recs := make(records)
	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	default:
		defer f.Close()
		if recs, err = decodeRecords(f); err != nil {
			return nil, fmt.Errorf("keystore: %s: %w", path, err)
		}
	}
	return &ConfigDataStore{path: path, recs: recs}, nil
}

func expandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	return os.Expand(path, os.Getenv)
}

func (s *ConfigDataStore) Get(key string, decrypt bool) ([]byte, error) {
	s.mu.RLock()
	v := s.recs[key]
	s.mu.RUnlock()
	if len(v) == 0 {
		return nil, nil
	}
	if decrypt {
		return decryptValue(v)
	}
	return bytes.Clone(v), nil
}

func (s *ConfigDataStore) Set(key string, encrypt bool, value []byte) error {
	v, err := sealValue(value, encrypt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		delete(s.recs, key)
	} else {
		s.recs[key] = v
	}
	var buf bytes.Buffer
	if err := s.recs.encode(&buf); err != nil {
		return err
	}
	return writeFileAtomic(s.path, buf.Bytes(), 0600)
}

func (s *ConfigDataStore) Path() string { return s.path }

// sealValue returns the stored form of value. A nil value stays nil.
func sealValue(value []byte, encrypt bool) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	if !encrypt {
		return bytes.Clone(value), nil
	}
	v, err := encryptValue(value)
	if err != nil {
		return nil, fmt.Errorf("keystore: encrypt: %w", err)
	}
	return v, nil
}

// writeFileAtomic writes data to a temporary file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
