package command

import "encoding/binary"

// NakPayload is the osdp_NAK payload.
type NakPayload struct {
	Reason NakReason

	// Detail is optional reason-specific data.
	Detail []byte
}

// Encode serializes the payload.
func (p *NakPayload) Encode() []byte {
	buf := make([]byte, 0, 1+len(p.Detail))
	buf = append(buf, uint8(p.Reason))
	return append(buf, p.Detail...)
}

// Decode parses the payload.
func (p *NakPayload) Decode(data []byte) error {
	if len(data) < 1 {
		return ErrInvalidLength
	}
	p.Reason = NakReason(data[0])
	p.Detail = append([]byte(nil), data[1:]...)
	return nil
}

// PdIDPayload is the osdp_PDID payload (12 bytes).
type PdIDPayload struct {
	VendorCode   [3]byte
	ModelNumber  uint8
	Version      uint8
	SerialNumber uint32
	// FirmwareMajor.FirmwareMinor.FirmwareBuild
	FirmwareMajor uint8
	FirmwareMinor uint8
	FirmwareBuild uint8
}

// Encode serializes the payload.
func (p *PdIDPayload) Encode() []byte {
	buf := make([]byte, 0, 12)
	buf = append(buf, p.VendorCode[:]...)
	buf = append(buf, p.ModelNumber, p.Version)
	buf = binary.LittleEndian.AppendUint32(buf, p.SerialNumber)
	return append(buf, p.FirmwareMajor, p.FirmwareMinor, p.FirmwareBuild)
}

// Decode parses the payload.
func (p *PdIDPayload) Decode(data []byte) error {
	if len(data) != 12 {
		return ErrInvalidLength
	}
	copy(p.VendorCode[:], data[:3])
	p.ModelNumber = data[3]
	p.Version = data[4]
	p.SerialNumber = binary.LittleEndian.Uint32(data[5:9])
	p.FirmwareMajor = data[9]
	p.FirmwareMinor = data[10]
	p.FirmwareBuild = data[11]
	return nil
}

// Capability function codes (Annex B) used by this implementation.
const (
	// CapCommunicationSecurity reports AES-128 secure channel support.
	CapCommunicationSecurity uint8 = 0x09

	// CapReceiveBufferSize reports the PD receive buffer size.
	CapReceiveBufferSize uint8 = 0x0A

	// CapCheckCharacter reports CRC-16 support.
	CapCheckCharacter uint8 = 0x08
)

// Capability is one osdp_PDCAP entry (3 bytes).
type Capability struct {
	Function   uint8
	Compliance uint8
	NumberOf   uint8
}

// PdCapPayload is the osdp_PDCAP payload.
type PdCapPayload struct {
	Capabilities []Capability
}

// Encode serializes the payload.
func (p *PdCapPayload) Encode() []byte {
	buf := make([]byte, 0, len(p.Capabilities)*3)
	for _, c := range p.Capabilities {
		buf = append(buf, c.Function, c.Compliance, c.NumberOf)
	}
	return buf
}

// Decode parses the payload.
func (p *PdCapPayload) Decode(data []byte) error {
	if len(data) == 0 || len(data)%3 != 0 {
		return ErrInvalidLength
	}
	p.Capabilities = make([]Capability, 0, len(data)/3)
	for off := 0; off < len(data); off += 3 {
		p.Capabilities = append(p.Capabilities, Capability{
			Function:   data[off],
			Compliance: data[off+1],
			NumberOf:   data[off+2],
		})
	}
	return nil
}

// LocalStatusPayload is the osdp_LSTATR payload (2 bytes).
type LocalStatusPayload struct {
	// Tamper is nonzero when the PD enclosure is open.
	Tamper uint8

	// Power is nonzero on power failure.
	Power uint8
}

// Encode serializes the payload.
func (p *LocalStatusPayload) Encode() []byte {
	return []byte{p.Tamper, p.Power}
}

// Decode parses the payload.
func (p *LocalStatusPayload) Decode(data []byte) error {
	if len(data) != 2 {
		return ErrInvalidLength
	}
	p.Tamper = data[0]
	p.Power = data[1]
	return nil
}

// StatusPayload is the osdp_ISTATR/OSTATR/RSTATR payload: one state byte
// per point.
type StatusPayload struct {
	States []uint8
}

// Encode serializes the payload.
func (p *StatusPayload) Encode() []byte {
	return append([]byte(nil), p.States...)
}

// Decode parses the payload.
func (p *StatusPayload) Decode(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidLength
	}
	p.States = append([]byte(nil), data...)
	return nil
}

// CardRawPayload is the osdp_RAW payload: bit-level card data.
type CardRawPayload struct {
	Reader uint8

	// Format is 0x00 for unspecified, 0x01 for Wiegand (P/data/P).
	Format uint8

	// BitCount is the number of valid bits in Data.
	BitCount uint16
	Data     []byte
}

// Encode serializes the payload.
func (p *CardRawPayload) Encode() []byte {
	buf := make([]byte, 0, 4+len(p.Data))
	buf = append(buf, p.Reader, p.Format)
	buf = binary.LittleEndian.AppendUint16(buf, p.BitCount)
	return append(buf, p.Data...)
}

// Decode parses the payload.
func (p *CardRawPayload) Decode(data []byte) error {
	if len(data) < 4 {
		return ErrInvalidLength
	}
	bits := binary.LittleEndian.Uint16(data[2:4])
	if len(data)-4 != (int(bits)+7)/8 {
		return ErrInvalidLength
	}
	p.Reader = data[0]
	p.Format = data[1]
	p.BitCount = bits
	p.Data = append([]byte(nil), data[4:]...)
	return nil
}

// KeypadPayload is the osdp_KEYPAD payload.
type KeypadPayload struct {
	Reader uint8
	Digits []byte
}

// Encode serializes the payload.
func (p *KeypadPayload) Encode() []byte {
	buf := make([]byte, 0, 2+len(p.Digits))
	buf = append(buf, p.Reader, uint8(len(p.Digits)))
	return append(buf, p.Digits...)
}

// Decode parses the payload.
func (p *KeypadPayload) Decode(data []byte) error {
	if len(data) < 2 || len(data) != 2+int(data[1]) {
		return ErrInvalidLength
	}
	p.Reader = data[0]
	p.Digits = append([]byte(nil), data[2:]...)
	return nil
}

// ComPayload is the osdp_COM payload (5 bytes), confirming a ComSet.
type ComPayload struct {
	Address  uint8
	BaudRate uint32
}

// Encode serializes the payload.
func (p *ComPayload) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = p.Address
	binary.LittleEndian.PutUint32(buf[1:], p.BaudRate)
	return buf
}

// Decode parses the payload.
func (p *ComPayload) Decode(data []byte) error {
	if len(data) != 5 {
		return ErrInvalidLength
	}
	p.Address = data[0]
	p.BaudRate = binary.LittleEndian.Uint32(data[1:])
	return nil
}

// CCryptPayload is the osdp_CCRYPT payload (32 bytes).
type CCryptPayload struct {
	// ClientUID identifies the PD (vendor code, model, version, serial).
	ClientUID []byte

	// RndB is the PD's 8-byte challenge.
	RndB []byte

	// Cryptogram is the 16-byte PD cryptogram.
	Cryptogram []byte
}

// Encode serializes the payload.
func (p *CCryptPayload) Encode() []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, p.ClientUID...)
	buf = append(buf, p.RndB...)
	return append(buf, p.Cryptogram...)
}

// Decode parses the payload.
func (p *CCryptPayload) Decode(data []byte) error {
	if len(data) != 32 {
		return ErrInvalidLength
	}
	p.ClientUID = append([]byte(nil), data[:8]...)
	p.RndB = append([]byte(nil), data[8:16]...)
	p.Cryptogram = append([]byte(nil), data[16:32]...)
	return nil
}

// RMACIPayload is the osdp_RMAC_I payload: the 16-byte initial reply MAC.
type RMACIPayload struct {
	RMAC []byte
}

// Encode serializes the payload.
func (p *RMACIPayload) Encode() []byte {
	return append([]byte(nil), p.RMAC...)
}

// Decode parses the payload.
func (p *RMACIPayload) Decode(data []byte) error {
	if len(data) != 16 {
		return ErrInvalidLength
	}
	p.RMAC = append([]byte(nil), data...)
	return nil
}

// MfgReplyPayload is the osdp_MFGREP payload.
type MfgReplyPayload struct {
	VendorCode [3]byte
	Data       []byte
}

// Encode serializes the payload.
func (p *MfgReplyPayload) Encode() []byte {
	buf := make([]byte, 0, 3+len(p.Data))
	buf = append(buf, p.VendorCode[:]...)
	return append(buf, p.Data...)
}

// Decode parses the payload.
func (p *MfgReplyPayload) Decode(data []byte) error {
	if len(data) < 3 {
		return ErrInvalidLength
	}
	copy(p.VendorCode[:], data[:3])
	p.Data = append([]byte(nil), data[3:]...)
	return nil
}

// FTStatus is the osdp_FTSTAT detail code. Non-negative values let the
// transfer continue; negative values abort it.
type FTStatus int16

// FTSTAT detail codes.
const (
	// FTStatusOK: fragment accepted, send the next one.
	FTStatusOK FTStatus = 0

	// FTStatusProcessed: contents processed, transfer may continue.
	FTStatusProcessed FTStatus = 1

	// FTStatusRebooting: PD will reboot to apply the file.
	FTStatusRebooting FTStatus = 2

	// FTStatusFinishing: final fragment accepted, PD is finalizing.
	FTStatusFinishing FTStatus = 3

	// FTStatusAbort: PD aborted the transfer.
	FTStatusAbort FTStatus = -1

	// FTStatusUnrecognized: file contents were not recognized.
	FTStatusUnrecognized FTStatus = -2

	// FTStatusMalformed: fragment was inconsistent with the transfer.
	FTStatusMalformed FTStatus = -3
)

// FTStatPayload is the osdp_FTSTAT payload (7 bytes).
type FTStatPayload struct {
	// Action carries PD handling flags; 0 requests default handling.
	Action uint8

	// Delay asks the CP to wait this many milliseconds before the next
	// fragment.
	Delay uint16

	// Status is the transfer detail code.
	Status FTStatus

	// UpdateMsgMax, when non-zero, caps the fragment size the PD will
	// accept from here on.
	UpdateMsgMax uint16
}

// Encode serializes the payload.
func (p *FTStatPayload) Encode() []byte {
	buf := make([]byte, 0, 7)
	buf = append(buf, p.Action)
	buf = binary.LittleEndian.AppendUint16(buf, p.Delay)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(p.Status))
	return binary.LittleEndian.AppendUint16(buf, p.UpdateMsgMax)
}

// Decode parses the payload.
func (p *FTStatPayload) Decode(data []byte) error {
	if len(data) != 7 {
		return ErrInvalidLength
	}
	p.Action = data[0]
	p.Delay = binary.LittleEndian.Uint16(data[1:3])
	p.Status = FTStatus(binary.LittleEndian.Uint16(data[3:5]))
	p.UpdateMsgMax = binary.LittleEndian.Uint16(data[5:7])
	return nil
}
