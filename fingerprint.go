package tlsctx

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const fpSize = 16

// FP is a certificate fingerprint (truncated BLAKE2b hash of the certificate's raw bytes).
type FP [fpSize]byte

// String returns the fingerprint as colon separated upper case hex.
func (f FP) String() string {
	var b strings.Builder
	for i, c := range f {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// IsZero returns true if the fingerprint is all zeros (unset).
func (f FP) IsZero() bool {
	return f == FP{}
}

// FingerprintOf returns the fingerprint of a certificate.
func FingerprintOf(cert *x509.Certificate) FP {
	if cert == nil {
		return FP{}
	}
	return FingerprintHash(cert.Raw)
}

// FingerprintHash computes the fingerprint from raw certificate bytes.
func FingerprintHash(raw []byte) FP {
	h, err := blake2b.New(fpSize, nil)
	if err != nil {
		panic("blake2b.New: " + err.Error())
	}
	h.Write(raw)
	return *(*FP)(h.Sum(nil))
}

// FingerprintSizeError is returned when a fingerprint has an invalid byte length.
type FingerprintSizeError struct {
	Got int
}

func (e FingerprintSizeError) Error() string {
	return fmt.Sprintf("tlsctx: fingerprint must be %d bytes, got %d", fpSize, e.Got)
}

// ParseFP parses a fingerprint in the form returned by FP.String.
// Separators are optional.
func ParseFP(s string) (FP, error) {
	var fp FP
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return fp, fmt.Errorf("tlsctx: invalid fingerprint: %w", err)
	}
	if len(raw) != fpSize {
		return fp, FingerprintSizeError{Got: len(raw)}
	}
	copy(fp[:], raw)
	return fp, nil
}
