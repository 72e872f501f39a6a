package keystore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultBucket holds the Bundle of a BoltDataStore opened with OpenBolt.
const DefaultBucket = "credentials"

// BoltDataStore keeps values in one bucket of a bbolt database. Several stores,
// one per named bundle, may share a database through Bucket.
type BoltDataStore struct {
	db     *bbolt.DB
	bucket []byte
	owner  bool
}

var _ DataStore = (*BoltDataStore)(nil)

// OpenBolt opens or creates the database at path and returns the store for DefaultBucket.
func OpenBolt(path string) (*BoltDataStore, error) {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("keystore: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("keystore: open database: %w", err)
	}
	s := &BoltDataStore{db: db, bucket: []byte(DefaultBucket), owner: true}
	if err := s.ensure(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltDataStore) ensure() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("keystore: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Bucket returns the store for the named bundle in the same database.
func (s *BoltDataStore) Bucket(name string) (*BoltDataStore, error) {
	b := &BoltDataStore{db: s.db, bucket: []byte(name)}
	if err := b.ensure(); err != nil {
		return nil, err
	}
	return b, nil
}

// Buckets lists the named bundles in the database.
func (s *BoltDataStore) Buckets() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (s *BoltDataStore) Get(key string, decrypt bool) ([]byte, error) {
	var v []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			// Values are only valid inside the transaction.
			v = bytes.Clone(b.Get([]byte(key)))
		}
		return nil
	})
	if err != nil || len(v) == 0 {
		return nil, err
	}
	if decrypt {
		if v, err = decryptValue(v); err != nil {
			return nil, fmt.Errorf("keystore: decrypt %s: %w", key, err)
		}
	}
	return v, nil
}

func (s *BoltDataStore) Set(key string, encrypt bool, value []byte) error {
	data, err := sealValue(value, encrypt)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		if data == nil {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), data)
	})
}

// Path returns the database file and bucket.
func (s *BoltDataStore) Path() string {
	return s.db.Path() + "#" + string(s.bucket)
}

// Close closes the database. Stores returned by Bucket share it and must not be
// used afterwards; closing them does nothing. Close is safe to repeat.
func (s *BoltDataStore) Close() error {
	if !s.owner {
		return nil
	}
	s.owner = false
	return s.db.Close()
}
