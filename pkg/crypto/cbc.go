package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// Pad appends OSDP padding: a single 0x80 marker followed by zeros up to
// the next block boundary (ISO/IEC 9797-1 padding method 2). Padding is
// always added, so an aligned input grows by a full block.
func Pad(data []byte) []byte {
	padded := make([]byte, len(data), len(data)+BlockSize)
	copy(padded, data)
	padded = append(padded, 0x80)
	for len(padded)%BlockSize != 0 {
		padded = append(padded, 0x00)
	}
	return padded
}

// Unpad strips OSDP padding, scanning back over zeros to the 0x80 marker.
func Unpad(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != 0x80 {
		return nil, ErrInvalidPadding
	}
	return data[:i], nil
}

// CBCEncrypt encrypts plaintext with AES-128-CBC. The plaintext must
// already be padded to a block boundary (use Pad).
func CBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != BlockSize {
		return nil, ErrInvalidIVSize
	}
	if len(plaintext)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

// CBCDecrypt decrypts ciphertext with AES-128-CBC. The output retains its
// padding; callers strip it with Unpad once the MAC has been verified.
func CBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != BlockSize {
		return nil, ErrInvalidIVSize
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}
