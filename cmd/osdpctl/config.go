package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CPConfig is the YAML config for the cp command.
type CPConfig struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string `yaml:"device"`

	// Baud defaults to 9600.
	Baud int `yaml:"baud,omitempty"`

	// Devices lists the peripheral devices to poll.
	Devices []CPDeviceConfig `yaml:"devices"`
}

// CPDeviceConfig is one polled device entry.
type CPDeviceConfig struct {
	Address uint8 `yaml:"address"`

	// SCBK is the 16-byte secure channel base key as 32 hex digits.
	// Empty means a plaintext link.
	SCBK string `yaml:"scbk,omitempty"`

	// Checksum selects the legacy 8-bit checksum over CRC-16.
	Checksum bool `yaml:"checksum,omitempty"`

	PollIntervalMs int `yaml:"poll_interval_ms,omitempty"`
}

// PDConfig is the YAML config for the pd command.
type PDConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud,omitempty"`

	Address uint8 `yaml:"address"`

	// SCBK enables the secure channel (32 hex digits).
	SCBK string `yaml:"scbk,omitempty"`

	// EnforceSecure rejects plaintext commands once a key is set.
	EnforceSecure bool `yaml:"enforce_secure,omitempty"`

	// VendorCode is the 3-byte IEEE OUI as 6 hex digits.
	VendorCode   string `yaml:"vendor_code,omitempty"`
	ModelNumber  uint8  `yaml:"model,omitempty"`
	SerialNumber uint32 `yaml:"serial,omitempty"`
}

func loadCPConfig(path string) (*CPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg CPConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("%s: device is required", path)
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("%s: at least one device entry is required", path)
	}
	return &cfg, nil
}

func loadPDConfig(path string) (*PDConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg PDConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("%s: device is required", path)
	}
	return &cfg, nil
}

// parseKey decodes a 32-hex-digit SCBK. Empty input means no key.
func parseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("scbk: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("scbk: want 16 bytes, got %d", len(key))
	}
	return key, nil
}
