//go:build !windows

package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// sealKey obscures secrets at rest. Anyone holding the binary can recover it.
var sealKey = [32]byte{
	0x4c, 0x91, 0x0e, 0xd7, 0x35, 0xa2, 0x6b, 0xf8,
	0x13, 0xce, 0x57, 0x20, 0x9a, 0x6d, 0xe1, 0x84,
	0xb9, 0x02, 0x7f, 0x46, 0xdc, 0x38, 0xa5, 0x1b,
	0x60, 0xf3, 0x8d, 0x29, 0xc4, 0x5e, 0x97, 0x0a,
}

var errDecrypt = errors.New("keystore: value cannot be decrypted")

// encryptValue returns nonce followed by the sealed box.
func encryptValue(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &sealKey), nil
}

func decryptValue(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed)
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &sealKey)
	if !ok {
		return nil, errDecrypt
	}
	return plaintext, nil
}
