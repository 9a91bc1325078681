package packet

import "errors"

// Framing errors. A decode failure never yields a partially parsed packet.
var (
	// ErrTruncated indicates the buffer ends before the declared frame does.
	ErrTruncated = errors.New("packet: truncated frame")

	// ErrNoSOM indicates the buffer does not start with the SOM marker.
	ErrNoSOM = errors.New("packet: missing start of message")

	// ErrLengthMismatch indicates the declared length disagrees with the
	// minimum structure implied by the control byte.
	ErrLengthMismatch = errors.New("packet: declared length mismatch")

	// ErrPacketTooLong indicates the declared length exceeds MaxPacketSize.
	ErrPacketTooLong = errors.New("packet: exceeds maximum packet size")

	// ErrChecksumInvalid indicates the 8-bit checksum did not match.
	ErrChecksumInvalid = errors.New("packet: checksum mismatch")

	// ErrCRCInvalid indicates the CRC-16 did not match.
	ErrCRCInvalid = errors.New("packet: CRC mismatch")

	// ErrInvalidSCB indicates a malformed security control block.
	ErrInvalidSCB = errors.New("packet: invalid security control block")

	// ErrInvalidAddress indicates an address outside the 0x00-0x7F range.
	ErrInvalidAddress = errors.New("packet: invalid device address")

	// ErrPayloadTooLong indicates the payload does not fit in a frame.
	ErrPayloadTooLong = errors.New("packet: payload too long")
)

// Wire format constants from IEC 60839-11-5 (OSDP).
const (
	// SOM is the start-of-message marker that opens every frame.
	SOM byte = 0x53

	// MaxPacketSize is the maximum whole-frame size this implementation
	// accepts. The standard leaves the ceiling to the implementation;
	// 512 covers every defined command with margin.
	MaxPacketSize = 512

	// MinPacketSize is SOM + address + length (2) + control + code + 1-byte
	// checksum, the smallest legal frame.
	MinPacketSize = 7

	// HeaderSize is SOM + address + length (2) + control.
	HeaderSize = 5

	// BroadcastAddress addresses every PD on the bus. Replies never use it.
	BroadcastAddress uint8 = 0x7F

	// ReplyAddressFlag is set in the address byte of PD-to-CP frames.
	ReplyAddressFlag uint8 = 0x80

	// MACSize is the truncated MAC appended to secure frames (SCS 15-18).
	MACSize = 4
)

// Control byte layout.
const (
	// ctrlSequenceMask covers the 2-bit sequence number (bits 0-1).
	ctrlSequenceMask byte = 0x03

	// ctrlCRCFlag selects CRC-16 over the 8-bit checksum (bit 2).
	ctrlCRCFlag byte = 0x04

	// ctrlSCBFlag indicates a security control block follows (bit 3).
	ctrlSCBFlag byte = 0x08
)
