//go:build windows

package keystore

import (
	"github.com/billgraziano/dpapi"
)

// encryptValue protects plaintext with DPAPI for the current user or machine.
func encryptValue(plaintext []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plaintext)
}

func decryptValue(sealed []byte) ([]byte, error) {
	return dpapi.DecryptBytes(sealed)
}
