package command

import "fmt"

// ReplyCode is an OSDP reply code (PD to CP).
type ReplyCode uint8

// Reply codes.
const (
	// Ack is the general acknowledge with no data.
	Ack ReplyCode = 0x40

	// Nak is the negative acknowledge; the payload carries a reason code.
	Nak ReplyCode = 0x41

	// PdIDReport answers IDReport.
	PdIDReport ReplyCode = 0x45

	// PdCapReport answers CapReport.
	PdCapReport ReplyCode = 0x46

	// LocalStatusReport answers LocalStatus and reports tamper/power events.
	LocalStatusReport ReplyCode = 0x48

	// InputStatusReport answers InputStatus.
	InputStatusReport ReplyCode = 0x49

	// OutputStatusReport answers OutputStatus and OutputSet.
	OutputStatusReport ReplyCode = 0x4A

	// ReaderStatusReport answers ReaderStatus.
	ReaderStatusReport ReplyCode = 0x4B

	// CardRaw reports raw card data (bit level).
	CardRaw ReplyCode = 0x50

	// CardFormatted reports character-format card data.
	CardFormatted ReplyCode = 0x51

	// Keypad reports reader keypad digits.
	Keypad ReplyCode = 0x53

	// ComReport answers ComSet.
	ComReport ReplyCode = 0x54

	// CCrypt is osdp_CCRYPT, secure handshake step 2.
	CCrypt ReplyCode = 0x76

	// RMACI is osdp_RMAC_I, secure handshake step 4.
	RMACI ReplyCode = 0x78

	// Busy tells the CP to retry the command later. It does not consume a
	// sequence number.
	Busy ReplyCode = 0x79

	// FTStat reports the progress of a file transfer fragment.
	FTStat ReplyCode = 0x7A

	// ManufacturerReply is the vendor-specific escape reply.
	ManufacturerReply ReplyCode = 0x90
)

// String returns the conventional osdp_* mnemonic.
func (r ReplyCode) String() string {
	switch r {
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	case PdIDReport:
		return "PDID"
	case PdCapReport:
		return "PDCAP"
	case LocalStatusReport:
		return "LSTATR"
	case InputStatusReport:
		return "ISTATR"
	case OutputStatusReport:
		return "OSTATR"
	case ReaderStatusReport:
		return "RSTATR"
	case CardRaw:
		return "RAW"
	case CardFormatted:
		return "FMT"
	case Keypad:
		return "KEYPAD"
	case ComReport:
		return "COM"
	case CCrypt:
		return "CCRYPT"
	case RMACI:
		return "RMAC_I"
	case FTStat:
		return "FTSTAT"
	case Busy:
		return "BUSY"
	case ManufacturerReply:
		return "MFGREP"
	default:
		return fmt.Sprintf("REPLY(0x%02X)", uint8(r))
	}
}

// NakReason is the reason code carried by a Nak reply.
type NakReason uint8

// NAK reason codes.
const (
	// NakMsgCheck: message check (checksum/CRC) failed.
	NakMsgCheck NakReason = 0x01

	// NakCmdLength: command length was invalid.
	NakCmdLength NakReason = 0x02

	// NakCmdUnknown: command code not implemented.
	NakCmdUnknown NakReason = 0x03

	// NakSeqNum: unexpected sequence number.
	NakSeqNum NakReason = 0x04

	// NakSecUnsupported: security block not supported.
	NakSecUnsupported NakReason = 0x05

	// NakSecConditions: encryption required for this command.
	NakSecConditions NakReason = 0x06

	// NakBioType: unsupported biometric type.
	NakBioType NakReason = 0x07

	// NakBioFormat: unsupported biometric format.
	NakBioFormat NakReason = 0x08

	// NakRecordUnable: unable to process the record.
	NakRecordUnable NakReason = 0x09
)

// String returns a short description of the reason.
func (n NakReason) String() string {
	switch n {
	case NakMsgCheck:
		return "message check failed"
	case NakCmdLength:
		return "invalid command length"
	case NakCmdUnknown:
		return "unknown command"
	case NakSeqNum:
		return "sequence error"
	case NakSecUnsupported:
		return "security block unsupported"
	case NakSecConditions:
		return "secure channel required"
	case NakBioType:
		return "unsupported biometric type"
	case NakBioFormat:
		return "unsupported biometric format"
	case NakRecordUnable:
		return "unable to process record"
	default:
		return fmt.Sprintf("reason 0x%02X", uint8(n))
	}
}
