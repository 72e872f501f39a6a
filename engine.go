package tlsctx

import (
	"crypto/tls"
	"crypto/x509"
	"sync"
)

// Engine status codes. Negative values are errors.
const (
	StatusSuccess                = 0
	StatusDecryptionFailed       = -24
	StatusMemoryError            = -25
	StatusBase64DecodingError    = -34
	StatusCertificateError       = -43
	StatusNoCertificateFound     = -49
	StatusInvalidRequest         = -50
	StatusCertificateKeyMismatch = -60
	StatusFileError              = -64
	StatusASN1DERError           = -69
	StatusUnknownPKAlgorithm     = -80
	StatusUnimplementedFeature   = -1250
)

var statusText = map[int]string{
	StatusSuccess:                "Success.",
	StatusDecryptionFailed:       "Decryption has failed.",
	StatusMemoryError:            "Internal error in memory allocation.",
	StatusBase64DecodingError:    "Base64 decoding error.",
	StatusCertificateError:       "Error in the certificate.",
	StatusNoCertificateFound:     "No certificate was found.",
	StatusInvalidRequest:         "The request is invalid.",
	StatusCertificateKeyMismatch: "The certificate and the given key do not match.",
	StatusFileError:              "Error while reading file.",
	StatusASN1DERError:           "ASN1 parser: Error in DER parsing.",
	StatusUnknownPKAlgorithm:     "An unknown public key algorithm was encountered.",
	StatusUnimplementedFeature:   "The requested feature has not been implemented.",
}

// Strerror returns the engine description of a status code, or "" if there is none.
func Strerror(code int) string {
	return statusText[code]
}

// Engine performs the native credential operations behind a Store.
//
// Install calls return StatusSuccess or a negative status.
// SetSystemTrust and SetTrustMem return the number of certificates processed or a
// negative status.
type Engine interface {
	AllocateCredentials() (*Credentials, int)
	FreeCredentials(c *Credentials)
	SetKnownDHParams(c *Credentials, level SecParam) int
	SetSystemTrust(c *Credentials) int
	SetKeyFile(c *Credentials, certFile, keyFile string, format FileFormat, passphrase string) int
	SetKeyMem(c *Credentials, cert, key []byte, format FileFormat, passphrase string) int
	SetTrustMem(c *Credentials, ca []byte, format FileFormat) int
}

// Credentials is the native credential handle: installed certificate chains with their
// keys, and the trust anchors used to verify peers.
//
// Readers may run concurrently with additive updates.
type Credentials struct {
	mu      sync.RWMutex
	certs   []tls.Certificate
	anchors []*x509.Certificate
	system  *x509.CertPool
	dhLevel SecParam
	freed   bool
}

// NewCredentials returns an empty handle. Engines use it to allocate.
func NewCredentials() *Credentials {
	return &Credentials{}
}

// Certificates returns a copy of the installed certificate chains.
func (c *Credentials) Certificates() []tls.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]tls.Certificate, len(c.certs))
	copy(out, c.certs)
	return out
}

// TrustPool returns a copy of the trust anchors.
func (c *Credentials) TrustPool() *x509.CertPool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pool := x509.NewCertPool()
	if c.system != nil {
		pool = c.system.Clone()
	}
	for _, a := range c.anchors {
		pool.AddCert(a)
	}
	return pool
}

// TrustCount returns the number of trust anchors added from memory or files.
// System anchors are not counted.
func (c *Credentials) TrustCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.anchors)
}

// SystemTrust reports whether the platform trust anchors were loaded.
func (c *Credentials) SystemTrust() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system != nil
}

// DHLevel returns the key exchange security level seeded at allocation.
func (c *Credentials) DHLevel() SecParam {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dhLevel
}

// Released reports whether the handle was freed.
func (c *Credentials) Released() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freed
}

// AddCertificate installs a chain, replacing an installed chain with the same leaf.
func (c *Credentials) AddCertificate(cert tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(cert.Certificate) > 0 {
		fp := FingerprintHash(cert.Certificate[0])
		for i, have := range c.certs {
			if len(have.Certificate) > 0 && FingerprintHash(have.Certificate[0]) == fp {
				c.certs[i] = cert
				return
			}
		}
	}
	c.certs = append(c.certs, cert)
}

// AddTrust adds trust anchors.
func (c *Credentials) AddTrust(certs ...*x509.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchors = append(c.anchors, certs...)
}

// SetSystemPool records the platform trust anchors. A nil pool records an empty set.
func (c *Credentials) SetSystemPool(pool *x509.CertPool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pool == nil {
		pool = x509.NewCertPool()
	}
	c.system = pool
}

// SetDHLevel records the key exchange security level.
func (c *Credentials) SetDHLevel(level SecParam) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dhLevel = level
}

// Free marks the handle released and drops its material.
func (c *Credentials) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freed = true
	c.certs = nil
	c.anchors = nil
	c.system = nil
}
