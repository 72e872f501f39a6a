package tlsctx

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/youmark/pkcs8"
)

// StdEngine implements Engine on crypto/tls and crypto/x509.
//
// Encrypted PKCS#8 keys ("ENCRYPTED PRIVATE KEY") and legacy RFC 1423 encrypted PEM
// keys are decrypted with the store passphrase.
type StdEngine struct {
	// ReadFile reads certificate and key files. Defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)

	// SystemCertPool returns the platform trust anchors. Defaults to x509.SystemCertPool.
	SystemCertPool func() (*x509.CertPool, error)
}

var _ Engine = (*StdEngine)(nil)

var defaultEngine = &StdEngine{}

// DefaultEngine returns the engine used when Config.Engine is nil.
func DefaultEngine() Engine { return defaultEngine }

func (e *StdEngine) readFile(name string) ([]byte, error) {
	if e.ReadFile != nil {
		return e.ReadFile(name)
	}
	return os.ReadFile(name)
}

func (e *StdEngine) AllocateCredentials() (*Credentials, int) {
	return NewCredentials(), StatusSuccess
}

func (e *StdEngine) FreeCredentials(c *Credentials) {
	c.Free()
}

// SetKnownDHParams records the level. crypto/tls negotiates ECDHE groups itself.
func (e *StdEngine) SetKnownDHParams(c *Credentials, level SecParam) int {
	c.SetDHLevel(level)
	return StatusSuccess
}

func (e *StdEngine) SetSystemTrust(c *Credentials) int {
	if c.Released() {
		return StatusInvalidRequest
	}
	systemPool := x509.SystemCertPool
	if e.SystemCertPool != nil {
		systemPool = e.SystemCertPool
	}
	pool, err := systemPool()
	if err != nil {
		return StatusFileError
	}
	c.SetSystemPool(pool)
	return StatusSuccess
}

func (e *StdEngine) SetKeyFile(c *Credentials, certFile, keyFile string, format FileFormat, passphrase string) int {
	if c.Released() {
		return StatusInvalidRequest
	}
	certData, err := e.readFile(certFile)
	if err != nil {
		return StatusFileError
	}
	keyData, err := e.readFile(keyFile)
	if err != nil {
		return StatusFileError
	}
	return e.SetKeyMem(c, certData, keyData, format, passphrase)
}

func (e *StdEngine) SetKeyMem(c *Credentials, cert, key []byte, format FileFormat, passphrase string) int {
	if c.Released() {
		return StatusInvalidRequest
	}
	chain, status := decodeCertificates(cert, format)
	if status != StatusSuccess {
		return status
	}
	if len(chain) == 0 {
		return StatusNoCertificateFound
	}
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return StatusASN1DERError
	}
	priv, status := decodePrivateKey(key, format, passphrase)
	if status != StatusSuccess {
		return status
	}
	if !keyMatches(priv, leaf.PublicKey) {
		return StatusCertificateKeyMismatch
	}
	c.AddCertificate(tls.Certificate{
		Certificate: chain,
		PrivateKey:  priv,
		Leaf:        leaf,
	})
	return StatusSuccess
}

func (e *StdEngine) SetTrustMem(c *Credentials, ca []byte, format FileFormat) int {
	if c.Released() {
		return StatusInvalidRequest
	}
	raw, status := decodeCertificates(ca, format)
	if status != StatusSuccess {
		return status
	}
	certs := make([]*x509.Certificate, 0, len(raw))
	for _, der := range raw {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return StatusASN1DERError
		}
		certs = append(certs, cert)
	}
	c.AddTrust(certs...)
	return len(certs)
}

// decodeCertificates returns the DER of every certificate in data.
// Empty input yields no certificates. Non-empty input without any PEM block is an error.
func decodeCertificates(data []byte, format FileFormat) ([][]byte, int) {
	switch format {
	case DER:
		if len(data) == 0 {
			return nil, StatusSuccess
		}
		certs, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, StatusASN1DERError
		}
		out := make([][]byte, len(certs))
		for i, c := range certs {
			out[i] = c.Raw
		}
		return out, StatusSuccess
	case PEM:
		// Only text is trimmed. DER may end in zero bytes.
		data = bytes.TrimRight(data, "\x00")
		var out [][]byte
		rest := data
		found := false
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			found = true
			if block.Type != "CERTIFICATE" && block.Type != "X509 CERTIFICATE" {
				continue
			}
			out = append(out, block.Bytes)
		}
		if !found && len(bytes.TrimSpace(data)) > 0 {
			return nil, StatusBase64DecodingError
		}
		return out, StatusSuccess
	}
	return nil, StatusInvalidRequest
}

func decodePrivateKey(data []byte, format FileFormat, passphrase string) (crypto.Signer, int) {
	switch format {
	case DER:
		if priv, err := parsePlainKey(data); err == nil {
			return priv, StatusSuccess
		}
		if passphrase == "" {
			return nil, StatusASN1DERError
		}
		return parseEncryptedPKCS8(data, passphrase)
	case PEM:
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				return nil, StatusBase64DecodingError
			}
			if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
				continue
			}
			switch {
			case block.Type == "ENCRYPTED PRIVATE KEY":
				return parseEncryptedPKCS8(block.Bytes, passphrase)
			case x509.IsEncryptedPEMBlock(block): //nolint:staticcheck // RFC 1423 keys are still in circulation.
				der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
				if err != nil {
					return nil, StatusDecryptionFailed
				}
				priv, err := parsePlainKey(der)
				if err != nil {
					return nil, StatusDecryptionFailed
				}
				return priv, StatusSuccess
			}
			priv, err := parsePlainKey(block.Bytes)
			if err != nil {
				return nil, StatusASN1DERError
			}
			return priv, StatusSuccess
		}
	}
	return nil, StatusInvalidRequest
}

func parseEncryptedPKCS8(der []byte, passphrase string) (crypto.Signer, int) {
	if passphrase == "" {
		return nil, StatusDecryptionFailed
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(der, []byte(passphrase))
	if err != nil {
		return nil, StatusDecryptionFailed
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, StatusUnknownPKAlgorithm
	}
	return signer, StatusSuccess
}

var errUnknownKeyType = errors.New("unknown private key type")

func parsePlainKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		}
		return nil, errUnknownKeyType
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func keyMatches(priv crypto.Signer, pub crypto.PublicKey) bool {
	have, ok := priv.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return have.Equal(pub)
}
