// Package command defines the OSDP command and reply sets: code constants,
// typed payload codecs and the static registry mapping each command to the
// replies a PD may legally answer with.
//
// Code values follow IEC 60839-11-5 Annex A bit-for-bit.
package command

import "fmt"

// Code is an OSDP command code (CP to PD).
type Code uint8

// Command codes.
const (
	// Poll is the keep-alive request that also collects queued PD events.
	Poll Code = 0x60

	// IDReport requests the PD identification block.
	IDReport Code = 0x61

	// CapReport requests the PD capability list.
	CapReport Code = 0x62

	// LocalStatus requests tamper and power status.
	LocalStatus Code = 0x64

	// InputStatus requests the input point states.
	InputStatus Code = 0x65

	// OutputStatus requests the output point states.
	OutputStatus Code = 0x66

	// ReaderStatus requests the attached-reader tamper states.
	ReaderStatus Code = 0x67

	// OutputSet controls output points.
	OutputSet Code = 0x68

	// LEDControl drives reader LEDs.
	LEDControl Code = 0x69

	// BuzzerControl drives the reader buzzer.
	BuzzerControl Code = 0x6A

	// TextOutput writes text to the reader display.
	TextOutput Code = 0x6B

	// ComSet reconfigures the PD address and baud rate.
	ComSet Code = 0x6E

	// KeySet installs a new secure channel base key (secure only).
	KeySet Code = 0x75

	// Challenge is osdp_CHLNG, secure handshake step 1.
	Challenge Code = 0x76

	// SCrypt is osdp_SCRYPT, secure handshake step 3.
	SCrypt Code = 0x77

	// ACURxSize advertises the CP's maximum receive size.
	ACURxSize Code = 0x7B

	// FileTransfer carries one fragment of a CP-to-PD file transfer.
	FileTransfer Code = 0x7C

	// Manufacturer is the vendor-specific escape command.
	Manufacturer Code = 0x80

	// Abort cancels a multi-message operation in progress.
	Abort Code = 0xA2

	// KeepActive asks the PD to hold the secure channel open.
	KeepActive Code = 0xA7
)

// String returns the conventional osdp_* mnemonic.
func (c Code) String() string {
	switch c {
	case Poll:
		return "POLL"
	case IDReport:
		return "ID"
	case CapReport:
		return "CAP"
	case LocalStatus:
		return "LSTAT"
	case InputStatus:
		return "ISTAT"
	case OutputStatus:
		return "OSTAT"
	case ReaderStatus:
		return "RSTAT"
	case OutputSet:
		return "OUT"
	case LEDControl:
		return "LED"
	case BuzzerControl:
		return "BUZ"
	case TextOutput:
		return "TEXT"
	case ComSet:
		return "COMSET"
	case KeySet:
		return "KEYSET"
	case Challenge:
		return "CHLNG"
	case SCrypt:
		return "SCRYPT"
	case ACURxSize:
		return "ACURXSIZE"
	case FileTransfer:
		return "FILETRANSFER"
	case Manufacturer:
		return "MFG"
	case Abort:
		return "ABORT"
	case KeepActive:
		return "KEEPACTIVE"
	default:
		return fmt.Sprintf("CMD(0x%02X)", uint8(c))
	}
}
