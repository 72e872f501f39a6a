// Package keystore keeps certificate, key and trust material at rest and loads it
// into a tlsctx.Context.
//
// Secrets are encrypted with nacl/secretbox under an embedded key, or with DPAPI on
// Windows. This keeps them out of plain text; it is not protection against someone
// who can read the binary.
package keystore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kardianos/tlsctx"
)

// DataStore is a key/value store for credential material.
type DataStore interface {
	// Get returns the value for key, or nil, nil if it is not set.
	// With decrypt the stored value is decrypted first.
	Get(key string, decrypt bool) ([]byte, error)

	// Set stores value under key. With encrypt the value is encrypted first.
	// A nil value deletes the key.
	Set(key string, encrypt bool, value []byte) error

	// Path returns the storage location for display.
	Path() string
}

// Keys used for a Bundle.
const (
	KeyFormat      = "format"
	KeyCertificate = "certificate"
	KeyPrivateKey  = "private_key"
	KeyPassphrase  = "passphrase"
	KeyTrust       = "trust"
	KeyProfile     = "profile"
)

// ErrNoCredentials is returned by Load when the store holds neither a key pair nor trust.
var ErrNoCredentials = errors.New("keystore: no credentials stored")

// Bundle is the credential material kept in a DataStore.
type Bundle struct {
	Format      tlsctx.FileFormat
	Certificate []byte // Certificate chain, leaf first.
	PrivateKey  []byte
	Passphrase  string // Protects PrivateKey, if encrypted.
	Trust       []byte // CA certificates.
}

// Empty reports whether b holds no material.
func (b *Bundle) Empty() bool {
	return len(b.Certificate) == 0 && len(b.PrivateKey) == 0 && len(b.Trust) == 0
}

// Save writes b to ds. The private key and passphrase are encrypted.
func Save(ds DataStore, b *Bundle) error {
	set := []struct {
		key     string
		encrypt bool
		value   []byte
	}{
		{KeyFormat, false, []byte(b.Format.String())},
		{KeyCertificate, false, b.Certificate},
		{KeyPrivateKey, true, b.PrivateKey},
		{KeyPassphrase, true, []byte(b.Passphrase)},
		{KeyTrust, false, b.Trust},
	}
	for _, s := range set {
		v := s.value
		if len(v) == 0 {
			v = nil
		}
		if err := ds.Set(s.key, s.encrypt && v != nil, v); err != nil {
			return fmt.Errorf("keystore: save %s to %s: %w", s.key, ds.Path(), err)
		}
	}
	return nil
}

// Read returns the Bundle stored in ds.
func Read(ds DataStore) (*Bundle, error) {
	get := func(key string, decrypt bool) ([]byte, error) {
		v, err := ds.Get(key, decrypt)
		if err != nil {
			return nil, fmt.Errorf("keystore: read %s from %s: %w", key, ds.Path(), err)
		}
		return v, nil
	}

	b := &Bundle{}
	format, err := get(KeyFormat, false)
	if err != nil {
		return nil, err
	}
	if b.Format, err = tlsctx.ParseFileFormat(string(format)); err != nil {
		return nil, err
	}
	if b.Certificate, err = get(KeyCertificate, false); err != nil {
		return nil, err
	}
	if b.PrivateKey, err = get(KeyPrivateKey, true); err != nil {
		return nil, err
	}
	pass, err := get(KeyPassphrase, true)
	if err != nil {
		return nil, err
	}
	b.Passphrase = string(pass)
	if b.Trust, err = get(KeyTrust, false); err != nil {
		return nil, err
	}
	return b, nil
}

// Apply installs b into c through the memory channel.
// Trust is added before the key pair so a failing key still leaves trust usable.
func (b *Bundle) Apply(c *tlsctx.Context) error {
	if len(b.Trust) > 0 {
		if err := c.SetVerifyTrust(b.Trust, b.Format); err != nil {
			return fmt.Errorf("keystore: trust: %w", err)
		}
	}
	if len(b.Certificate) == 0 {
		return nil
	}
	if err := c.UsePassphrase(b.Passphrase); err != nil {
		return err
	}
	if err := c.UseCertificate(b.Certificate, b.Format); err != nil {
		return err
	}
	if err := c.UsePrivateKey(b.PrivateKey, b.Format); err != nil {
		return fmt.Errorf("keystore: key pair: %w", err)
	}
	return nil
}

// Load reads the Bundle in ds and installs it into c.
func Load(c *tlsctx.Context, ds DataStore) error {
	b, err := Read(ds)
	if err != nil {
		return err
	}
	if b.Empty() {
		return fmt.Errorf("%w in %s", ErrNoCredentials, ds.Path())
	}
	return b.Apply(c)
}

// Open opens the DataStore at path. The kind is chosen from the path:
//
//	*.db               bbolt database
//	*.conf, *.cfg      single config file
//	LM\..., CU\...     Windows registry key
//	anything else      directory with one file per key
//
// An empty path opens DefaultPath.
func Open(path string) (DataStore, error) {
	if path == "" {
		path = DefaultPath
	}
	switch {
	case strings.HasSuffix(path, ".db"):
		return OpenBolt(path)
	case strings.HasSuffix(path, ".conf"), strings.HasSuffix(path, ".cfg"):
		return NewConfigDataStore(path)
	}
	if ds, ok, err := openPlatform(path); ok {
		return ds, err
	}
	return NewFileDataStore(path)
}
