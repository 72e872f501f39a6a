// Package certgen creates certificate authorities, leaf certificates and keys for
// tests and local setups.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/youmark/pkcs8"
)

// Now returns the time used for validity periods.
var Now = time.Now

// Authority is a certificate authority able to sign leaf certificates.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// CertPEM returns the CA certificate in PEM format.
func (a *Authority) CertPEM() []byte {
	return EncodeCertPEM(a.Cert)
}

// Leaf is a signed certificate with its private key.
type Leaf struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// CertPEM returns the certificate in PEM format.
func (l *Leaf) CertPEM() []byte {
	return EncodeCertPEM(l.Cert)
}

// CertDER returns the certificate in DER format.
func (l *Leaf) CertDER() []byte {
	return l.Cert.Raw
}

// KeyPEM returns the private key as an unencrypted PKCS#8 PEM block.
func (l *Leaf) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(l.Key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// KeyDER returns the private key as unencrypted PKCS#8 DER.
func (l *Leaf) KeyDER() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(l.Key)
}

// EncryptedKeyPEM returns the private key as a passphrase protected PKCS#8 PEM block.
func (l *Leaf) EncryptedKeyPEM(passphrase string) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(l.Key, []byte(passphrase), nil)
	if err != nil {
		return nil, fmt.Errorf("certgen: encrypt key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}), nil
}

// EncodeCertPEM converts an x509 certificate to PEM format.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// randomSerialNumber generates a cryptographically random serial number for certificates.
// Serial numbers should be unique and unpredictable per RFC 5280.
func randomSerialNumber() (*big.Int, error) {
	serialBytes := make([]byte, 16)
	if _, err := rand.Read(serialBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random serial: %w", err)
	}
	// Ensure the serial number is positive by clearing the high bit.
	serialBytes[0] &= 0x7F
	return new(big.Int).SetBytes(serialBytes), nil
}

// CreateCA creates a new self-signed Certificate Authority.
func CreateCA(commonName string) (*Authority, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerialNumber()
	if err != nil {
		return nil, err
	}

	now := Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	caBytes, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, err
	}
	caCert, err := x509.ParseCertificate(caBytes)
	if err != nil {
		return nil, err
	}
	return &Authority{Cert: caCert, Key: caKey}, nil
}

// Issue creates a certificate for hostname signed by the authority.
// The hostname goes into the Subject Alternative Name for modern TLS validation.
// Server certificates carry both server and client auth usages.
func (a *Authority) Issue(hostname string, isServer bool) (*Leaf, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerialNumber()
	if err != nil {
		return nil, err
	}

	now := Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.DNSNames = nil
		template.IPAddresses = append(template.IPAddresses, ip)
	}
	if isServer {
		template.ExtKeyUsage = append(template.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, a.Cert, &privKey.PublicKey, a.Key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}
	return &Leaf{Cert: cert, Key: privKey}, nil
}
