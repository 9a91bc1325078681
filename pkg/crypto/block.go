// Package crypto provides the cryptographic primitives used by the OSDP
// secure channel: single-block AES-128 for key derivation and cryptograms,
// AES-128-CBC with OSDP padding for payload encryption, and the chained
// two-key MAC defined by IEC 60839-11-5 Annex D.
//
// This package only wraps vetted implementations (crypto/aes); the
// handshake orchestration lives in pkg/secure.
package crypto

import (
	"crypto/aes"
	"errors"
)

// Key and block sizes. OSDP secure channel is AES-128 throughout.
const (
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16

	// BlockSize is the AES block size in bytes.
	BlockSize = 16
)

// Errors for primitive misuse.
var (
	ErrInvalidKeySize   = errors.New("crypto: key must be 16 bytes")
	ErrInvalidBlockSize = errors.New("crypto: input must be a single AES block")
	ErrInvalidIVSize    = errors.New("crypto: IV must be 16 bytes")
	ErrNotBlockAligned  = errors.New("crypto: input not a multiple of the block size")
	ErrInvalidPadding   = errors.New("crypto: invalid padding")
)

// EncryptBlock encrypts a single 16-byte block with AES-128.
// This is the ECB building block behind session key derivation and the
// handshake cryptograms; it is never exposed to attacker-controlled
// plaintext longer than one block.
func EncryptBlock(key, in []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(in) != BlockSize {
		return nil, ErrInvalidBlockSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, BlockSize)
	block.Encrypt(out, in)
	return out, nil
}
