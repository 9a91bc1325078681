package crypto

import "crypto/rand"

// RandomBytes returns n cryptographically random bytes.
// Used for the RND.A / RND.B handshake challenges.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Zeroize overwrites key material in place. Callers drop the slice after.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
