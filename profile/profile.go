// Package profile describes a tlsctx.Context declaratively.
//
// Profiles are written by hand as YAML and kept in a keystore in a compact CBOR form.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/kardianos/tlsctx"
	"github.com/kardianos/tlsctx/keystore"
	"github.com/kardianos/tlsctx/session"
)

// EnvPassphrase overrides Profile.Passphrase when set.
const EnvPassphrase = "TLSCTX_PASSPHRASE"

// Profile is the declarative form of a Context.
//
// Relative file names are resolved against the directory of the profile file.
type Profile struct {
	Method             string   `yaml:"method" cbor:"1,keyasint"`
	Options            []string `yaml:"options,omitempty" cbor:"2,keyasint,omitempty"`
	Verify             []string `yaml:"verify,omitempty" cbor:"3,keyasint,omitempty"`
	DefaultVerifyPaths bool     `yaml:"default_verify_paths,omitempty" cbor:"4,keyasint,omitempty"`

	Format      string   `yaml:"format,omitempty" cbor:"5,keyasint,omitempty"`
	Certificate string   `yaml:"certificate,omitempty" cbor:"6,keyasint,omitempty"`
	PrivateKey  string   `yaml:"private_key,omitempty" cbor:"7,keyasint,omitempty"`
	Passphrase  string   `yaml:"passphrase,omitempty" cbor:"8,keyasint,omitempty"`
	Trust       []string `yaml:"trust,omitempty" cbor:"9,keyasint,omitempty"`

	// Keystore is loaded after the files above.
	Keystore string `yaml:"keystore,omitempty" cbor:"10,keyasint,omitempty"`

	ServerName string   `yaml:"server_name,omitempty" cbor:"11,keyasint,omitempty"`
	NextProtos []string `yaml:"next_protos,omitempty" cbor:"12,keyasint,omitempty"`

	dir string
}

// Parse decodes a YAML profile. Unknown fields are rejected.
func Parse(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	p := &Profile{}
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile reads the YAML profile at path and applies environment overrides.
func LoadFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	if pass, ok := os.LookupEnv(EnvPassphrase); ok {
		p.Passphrase = pass
	}
	return p, nil
}

// YAML encodes the profile.
func (p *Profile) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalBinary encodes the profile as CBOR.
func (p *Profile) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(p)
}

// UnmarshalBinary decodes a CBOR profile.
func (p *Profile) UnmarshalBinary(data []byte) error {
	if err := cbor.Unmarshal(data, p); err != nil {
		return fmt.Errorf("profile: decode: %w", err)
	}
	return p.Validate()
}

type parsed struct {
	method  tlsctx.Method
	options tlsctx.Options
	verify  tlsctx.VerifyMode
	format  tlsctx.FileFormat
}

func (p *Profile) parse() (parsed, error) {
	var r parsed
	var err error
	if r.method, err = tlsctx.ParseMethod(p.Method); err != nil {
		return r, err
	}
	if r.options, err = tlsctx.ParseOptions(p.Options); err != nil {
		return r, err
	}
	if r.verify, err = tlsctx.ParseVerifyMode(p.Verify); err != nil {
		return r, err
	}
	if r.format, err = tlsctx.ParseFileFormat(p.Format); err != nil {
		return r, err
	}
	return r, nil
}

// Validate checks names and the pairing of certificate and key.
func (p *Profile) Validate() error {
	if _, err := p.parse(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if (p.Certificate == "") != (p.PrivateKey == "") {
		return errors.New("profile: certificate and private_key must be set together")
	}
	return nil
}

func (p *Profile) path(name string) string {
	if p.dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.dir, name)
}

// MethodValue returns the parsed method.
func (p *Profile) MethodValue() (tlsctx.Method, error) {
	return tlsctx.ParseMethod(p.Method)
}

// Apply configures c from the profile.
func (p *Profile) Apply(c *tlsctx.Context) error {
	v, err := p.parse()
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if err := c.SetOptions(v.options); err != nil {
		return err
	}
	if err := c.SetVerifyMode(v.verify); err != nil {
		return err
	}
	if p.DefaultVerifyPaths {
		if err := c.SetDefaultVerifyPaths(); err != nil {
			return fmt.Errorf("profile: default verify paths: %w", err)
		}
	}
	for _, name := range p.Trust {
		data, err := os.ReadFile(p.path(name))
		if err != nil {
			return fmt.Errorf("profile: trust: %w", err)
		}
		if err := c.SetVerifyTrust(data, v.format); err != nil {
			return fmt.Errorf("profile: trust %s: %w", name, err)
		}
	}
	if p.Certificate != "" {
		if err := c.UsePassphrase(p.Passphrase); err != nil {
			return err
		}
		if err := c.UseCertificateFile(p.path(p.Certificate), v.format); err != nil {
			return err
		}
		if err := c.UsePrivateKeyFile(p.path(p.PrivateKey), v.format); err != nil {
			return fmt.Errorf("profile: key pair %s: %w", p.Certificate, err)
		}
	}
	if p.Keystore != "" {
		if err := p.loadKeystore(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Profile) loadKeystore(c *tlsctx.Context) error {
	ds, err := keystore.Open(p.path(p.Keystore))
	if err != nil {
		return err
	}
	if cl, ok := ds.(io.Closer); ok {
		defer cl.Close()
	}
	return keystore.Load(c, ds)
}

// NewContext creates a Context for the profile's method and applies the profile.
// cfg.Method is ignored.
func (p *Profile) NewContext(cfg tlsctx.Config) (*tlsctx.Context, error) {
	m, err := p.MethodValue()
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	cfg.Method = m
	c, err := tlsctx.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Apply(c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// SessionOptions returns the session settings of the profile.
func (p *Profile) SessionOptions(observer tlsctx.Observer) session.Options {
	return session.Options{
		ServerName: p.ServerName,
		NextProtos: p.NextProtos,
		Observer:   observer,
	}
}

// Save stores the profile in ds under keystore.KeyProfile. It is encrypted since
// it may carry a passphrase.
func Save(ds keystore.DataStore, p *Profile) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return ds.Set(keystore.KeyProfile, true, data)
}

// Read returns the profile stored in ds, or nil if there is none.
func Read(ds keystore.DataStore) (*Profile, error) {
	data, err := ds.Get(keystore.KeyProfile, true)
	if err != nil {
		return nil, fmt.Errorf("profile: %s: %w", ds.Path(), err)
	}
	if data == nil {
		return nil, nil
	}
	p := &Profile{}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}
