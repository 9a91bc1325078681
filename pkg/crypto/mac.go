package crypto

import (
	"crypto/aes"
	"crypto/subtle"
)

// ChainedMAC computes the OSDP message authentication code.
//
// The input is padded (0x80 then zeros) unless already block-aligned, then
// run through an AES-CBC chain seeded with iv: every block but the last is
// encrypted under smac1, the final block under smac2. The full 16-byte
// result chains into the next MAC computation; only the first 4 bytes
// travel on the wire.
func ChainedMAC(smac1, smac2, iv, data []byte) ([]byte, error) {
	if len(smac1) != KeySize || len(smac2) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != BlockSize {
		return nil, ErrInvalidIVSize
	}

	if len(data) == 0 || len(data)%BlockSize != 0 {
		data = Pad(data)
	}

	c1, err := aes.NewCipher(smac1)
	if err != nil {
		return nil, err
	}
	c2, err := aes.NewCipher(smac2)
	if err != nil {
		return nil, err
	}

	mac := make([]byte, BlockSize)
	copy(mac, iv)

	var buf [BlockSize]byte
	for off := 0; off < len(data); off += BlockSize {
		for i := 0; i < BlockSize; i++ {
			buf[i] = data[off+i] ^ mac[i]
		}
		if off+BlockSize == len(data) {
			c2.Encrypt(mac, buf[:])
		} else {
			c1.Encrypt(mac, buf[:])
		}
	}

	return mac, nil
}

// MACEqual compares two MAC values in constant time.
func MACEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
