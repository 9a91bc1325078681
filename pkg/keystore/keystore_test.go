package keystore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/osdp-go/osdp/pkg/secure"
)

func TestStatic(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	s, err := NewStatic(map[uint8][]byte{3: key})
	if err != nil {
		t.Fatalf("NewStatic() error: %v", err)
	}

	got, err := s.SCBK(3)
	if err != nil {
		t.Fatalf("SCBK(3) error: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("SCBK(3) = %x, want %x", got, key)
	}
	// The provider hands out copies, not aliases.
	got[0] = 0xFF
	again, _ := s.SCBK(3)
	if again[0] == 0xFF {
		t.Error("SCBK() aliases internal key storage")
	}

	if _, err := s.SCBK(4); !errors.Is(err, ErrNoKey) {
		t.Errorf("SCBK(4) = %v, want ErrNoKey", err)
	}
}

func TestStaticRejectsBadKey(t *testing.T) {
	if _, err := NewStatic(map[uint8][]byte{1: {1, 2, 3}}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("NewStatic(short key) = %v, want ErrInvalidKey", err)
	}
}

func TestDerived(t *testing.T) {
	d, err := NewDerived([]byte("bus master key for the east wing"))
	if err != nil {
		t.Fatalf("NewDerived() error: %v", err)
	}

	k1, err := d.SCBK(1)
	if err != nil {
		t.Fatalf("SCBK(1) error: %v", err)
	}
	k1Again, err := d.SCBK(1)
	if err != nil {
		t.Fatalf("SCBK(1) error: %v", err)
	}
	k2, err := d.SCBK(2)
	if err != nil {
		t.Fatalf("SCBK(2) error: %v", err)
	}

	if len(k1) != 16 {
		t.Fatalf("key length = %d, want 16", len(k1))
	}
	if !bytes.Equal(k1, k1Again) {
		t.Error("derivation is not deterministic")
	}
	if bytes.Equal(k1, k2) {
		t.Error("different addresses derived the same key")
	}

	if _, err := NewDerived(nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("NewDerived(nil) = %v, want ErrInvalidKey", err)
	}
}

func TestDefault(t *testing.T) {
	key, err := Default{}.SCBK(9)
	if err != nil {
		t.Fatalf("SCBK() error: %v", err)
	}
	if !bytes.Equal(key, secure.SCBKDefault) {
		t.Errorf("SCBK() = %x, want SCBK-D", key)
	}
}
