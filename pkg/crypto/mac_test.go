package crypto

import (
	"bytes"
	"testing"
)

var (
	macKey1 = bytes.Repeat([]byte{0x01}, KeySize)
	macKey2 = bytes.Repeat([]byte{0x02}, KeySize)
)

func TestChainedMAC(t *testing.T) {
	iv := make([]byte, BlockSize)
	data := []byte{0x53, 0x01, 0x0E, 0x00, 0x0E, 0x02, 0x15, 0x60}

	mac, err := ChainedMAC(macKey1, macKey2, iv, data)
	if err != nil {
		t.Fatalf("ChainedMAC() error: %v", err)
	}
	if len(mac) != BlockSize {
		t.Fatalf("mac length = %d, want %d", len(mac), BlockSize)
	}

	again, err := ChainedMAC(macKey1, macKey2, iv, data)
	if err != nil {
		t.Fatalf("ChainedMAC() error: %v", err)
	}
	if !bytes.Equal(mac, again) {
		t.Error("ChainedMAC() is not deterministic")
	}
}

func TestChainedMACSensitivity(t *testing.T) {
	iv := make([]byte, BlockSize)
	data := bytes.Repeat([]byte{0x5A}, 20)

	base, err := ChainedMAC(macKey1, macKey2, iv, data)
	if err != nil {
		t.Fatalf("ChainedMAC() error: %v", err)
	}

	tests := []struct {
		name string
		mod  func() ([]byte, error)
	}{
		{"flipped data bit", func() ([]byte, error) {
			d := append([]byte(nil), data...)
			d[3] ^= 0x01
			return ChainedMAC(macKey1, macKey2, iv, d)
		}},
		{"different iv", func() ([]byte, error) {
			iv2 := make([]byte, BlockSize)
			iv2[0] = 0x80
			return ChainedMAC(macKey1, macKey2, iv2, data)
		}},
		{"swapped keys", func() ([]byte, error) {
			return ChainedMAC(macKey2, macKey1, iv, data)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.mod()
			if err != nil {
				t.Fatalf("ChainedMAC() error: %v", err)
			}
			if bytes.Equal(base, got) {
				t.Error("mac did not change")
			}
		})
	}
}

// The final block runs under the second key, so a single-block message and
// the same bytes as a chain prefix must not collide.
func TestChainedMACFinalBlockKey(t *testing.T) {
	iv := make([]byte, BlockSize)
	block := bytes.Repeat([]byte{0x33}, BlockSize)

	mac, err := ChainedMAC(macKey1, macKey2, iv, block)
	if err != nil {
		t.Fatalf("ChainedMAC() error: %v", err)
	}

	// Single block: the result is AES(smac2, block XOR iv).
	want, err := EncryptBlock(macKey2, block)
	if err != nil {
		t.Fatalf("EncryptBlock() error: %v", err)
	}
	if !bytes.Equal(mac, want) {
		t.Errorf("single block mac = %x, want %x", mac, want)
	}
}

func TestMACEqual(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	if !MACEqual(a, []byte{1, 2, 3, 4}) {
		t.Error("MACEqual() rejected equal macs")
	}
	if MACEqual(a, []byte{1, 2, 3, 5}) {
		t.Error("MACEqual() accepted different macs")
	}
	if MACEqual(a, a[:3]) {
		t.Error("MACEqual() accepted different lengths")
	}
}

func TestZeroize(t *testing.T) {
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes() error: %v", err)
	}
	Zeroize(b)
	if !bytes.Equal(b, make([]byte, 16)) {
		t.Error("Zeroize() left residue")
	}
}
