// Package keystore supplies the pre-shared secure channel base key (SCBK)
// for each device at handshake time. The protocol engine never persists
// key material; it asks a Provider and forgets.
package keystore

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/osdp-go/osdp/pkg/crypto"
	"github.com/osdp-go/osdp/pkg/secure"
)

// Errors returned by providers.
var (
	// ErrNoKey indicates no SCBK is configured for the device.
	ErrNoKey = errors.New("keystore: no key for device")

	// ErrInvalidKey indicates a configured key of the wrong size.
	ErrInvalidKey = errors.New("keystore: key must be 16 bytes")
)

// Provider returns the 16-byte SCBK for a device address.
type Provider interface {
	SCBK(address uint8) ([]byte, error)
}

// Static is a fixed per-device key map.
type Static struct {
	keys map[uint8][]byte
}

// NewStatic creates a provider from a device-address-to-key map.
func NewStatic(keys map[uint8][]byte) (*Static, error) {
	copied := make(map[uint8][]byte, len(keys))
	for addr, key := range keys {
		if len(key) != crypto.KeySize {
			return nil, ErrInvalidKey
		}
		copied[addr] = append([]byte(nil), key...)
	}
	return &Static{keys: copied}, nil
}

// SCBK returns the configured key.
func (s *Static) SCBK(address uint8) ([]byte, error) {
	key, ok := s.keys[address]
	if !ok {
		return nil, ErrNoKey
	}
	return append([]byte(nil), key...), nil
}

// Derived derives a distinct SCBK per device from one bus master key via
// HKDF-SHA256, so a compromised PD does not expose its neighbours' keys.
// Both sides of a link must use the same master key and derivation.
type Derived struct {
	masterKey []byte
}

// NewDerived creates a derived-key provider from a bus master key.
// The master key may be any length; 16 bytes or more is recommended.
func NewDerived(masterKey []byte) (*Derived, error) {
	if len(masterKey) == 0 {
		return nil, ErrInvalidKey
	}
	return &Derived{masterKey: append([]byte(nil), masterKey...)}, nil
}

// SCBK derives the device key: HKDF(master, salt="osdp-scbk", info=address).
func (d *Derived) SCBK(address uint8) ([]byte, error) {
	r := hkdf.New(sha256.New, d.masterKey, []byte("osdp-scbk"), []byte{address})
	key := make([]byte, crypto.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Default always returns SCBK-D, the well-known provisioning key.
// Only for installing a real key on factory-fresh devices.
type Default struct{}

// SCBK returns SCBK-D regardless of address.
func (Default) SCBK(address uint8) ([]byte, error) {
	return append([]byte(nil), secure.SCBKDefault...), nil
}
