package command

import "encoding/binary"

// Multi-byte payload fields are little-endian on the wire.

// OutputControl is one entry of an OutputSet command (4 bytes each).
type OutputControl struct {
	// OutputNumber selects the output point, 0-based.
	OutputNumber uint8

	// ControlCode is the requested state change (0x00 NOP through 0x06
	// temporary-on per Annex A.8).
	ControlCode uint8

	// Timer is the temporary-state duration in 100ms units.
	Timer uint16
}

// OutputSetPayload is the osdp_OUT payload.
type OutputSetPayload struct {
	Controls []OutputControl
}

// Encode serializes the payload.
func (p *OutputSetPayload) Encode() []byte {
	buf := make([]byte, 0, len(p.Controls)*4)
	for _, c := range p.Controls {
		buf = append(buf, c.OutputNumber, c.ControlCode)
		buf = binary.LittleEndian.AppendUint16(buf, c.Timer)
	}
	return buf
}

// Decode parses the payload.
func (p *OutputSetPayload) Decode(data []byte) error {
	if len(data) == 0 || len(data)%4 != 0 {
		return ErrInvalidLength
	}
	p.Controls = make([]OutputControl, 0, len(data)/4)
	for off := 0; off < len(data); off += 4 {
		p.Controls = append(p.Controls, OutputControl{
			OutputNumber: data[off],
			ControlCode:  data[off+1],
			Timer:        binary.LittleEndian.Uint16(data[off+2 : off+4]),
		})
	}
	return nil
}

// LEDParams is one half (temporary or permanent) of an LED command.
type LEDParams struct {
	ControlCode uint8
	OnCount     uint8
	OffCount    uint8
	OnColor     uint8
	OffColor    uint8
}

// LEDPayload is the osdp_LED payload (14 bytes).
type LEDPayload struct {
	Reader    uint8
	LEDNumber uint8
	Temporary LEDParams

	// Timer is the temporary-settings duration in 100ms units.
	Timer     uint16
	Permanent LEDParams
}

const ledPayloadSize = 14

// Encode serializes the payload.
func (p *LEDPayload) Encode() []byte {
	buf := make([]byte, 0, ledPayloadSize)
	buf = append(buf, p.Reader, p.LEDNumber)
	buf = append(buf, p.Temporary.ControlCode, p.Temporary.OnCount,
		p.Temporary.OffCount, p.Temporary.OnColor, p.Temporary.OffColor)
	buf = binary.LittleEndian.AppendUint16(buf, p.Timer)
	buf = append(buf, p.Permanent.ControlCode, p.Permanent.OnCount,
		p.Permanent.OffCount, p.Permanent.OnColor, p.Permanent.OffColor)
	return buf
}

// Decode parses the payload.
func (p *LEDPayload) Decode(data []byte) error {
	if len(data) != ledPayloadSize {
		return ErrInvalidLength
	}
	p.Reader = data[0]
	p.LEDNumber = data[1]
	p.Temporary = LEDParams{data[2], data[3], data[4], data[5], data[6]}
	p.Timer = binary.LittleEndian.Uint16(data[7:9])
	p.Permanent = LEDParams{data[9], data[10], data[11], data[12], data[13]}
	return nil
}

// BuzzerPayload is the osdp_BUZ payload (5 bytes).
type BuzzerPayload struct {
	Reader   uint8
	ToneCode uint8

	// OnTime and OffTime are in 100ms units.
	OnTime  uint8
	OffTime uint8

	// Count is the number of cycles; 0 means forever.
	Count uint8
}

// Encode serializes the payload.
func (p *BuzzerPayload) Encode() []byte {
	return []byte{p.Reader, p.ToneCode, p.OnTime, p.OffTime, p.Count}
}

// Decode parses the payload.
func (p *BuzzerPayload) Decode(data []byte) error {
	if len(data) != 5 {
		return ErrInvalidLength
	}
	p.Reader, p.ToneCode, p.OnTime, p.OffTime, p.Count =
		data[0], data[1], data[2], data[3], data[4]
	return nil
}

// TextPayload is the osdp_TEXT payload (6 bytes + text).
type TextPayload struct {
	Reader      uint8
	ControlCode uint8

	// TempTime is the temporary-display duration in seconds.
	TempTime  uint8
	OffsetRow uint8
	OffsetCol uint8
	Text      []byte
}

// maxTextLength bounds the display text so the frame stays within limits.
const maxTextLength = 32

// Encode serializes the payload.
func (p *TextPayload) Encode() []byte {
	buf := make([]byte, 0, 6+len(p.Text))
	buf = append(buf, p.Reader, p.ControlCode, p.TempTime, p.OffsetRow,
		p.OffsetCol, uint8(len(p.Text)))
	return append(buf, p.Text...)
}

// Decode parses the payload.
func (p *TextPayload) Decode(data []byte) error {
	if len(data) < 6 {
		return ErrInvalidLength
	}
	length := int(data[5])
	if length > maxTextLength || len(data) != 6+length {
		return ErrInvalidLength
	}
	p.Reader = data[0]
	p.ControlCode = data[1]
	p.TempTime = data[2]
	p.OffsetRow = data[3]
	p.OffsetCol = data[4]
	p.Text = append([]byte(nil), data[6:]...)
	return nil
}

// ComSetPayload is the osdp_COMSET payload (5 bytes).
type ComSetPayload struct {
	// Address is the new PD address (0x00-0x7E).
	Address uint8

	// BaudRate is the new serial speed in bits per second.
	BaudRate uint32
}

// Encode serializes the payload.
func (p *ComSetPayload) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = p.Address
	binary.LittleEndian.PutUint32(buf[1:], p.BaudRate)
	return buf
}

// Decode parses the payload.
func (p *ComSetPayload) Decode(data []byte) error {
	if len(data) != 5 {
		return ErrInvalidLength
	}
	if data[0] > 0x7E {
		return ErrInvalidField
	}
	p.Address = data[0]
	p.BaudRate = binary.LittleEndian.Uint32(data[1:])
	return nil
}

// KeySetPayload is the osdp_KEYSET payload (18 bytes). It is only legal
// inside an established secure channel.
type KeySetPayload struct {
	// KeyType is 0x01 for the secure channel base key.
	KeyType uint8

	// Key is the new 16-byte SCBK.
	Key []byte
}

// Encode serializes the payload.
func (p *KeySetPayload) Encode() []byte {
	buf := make([]byte, 0, 18)
	buf = append(buf, p.KeyType, uint8(len(p.Key)))
	return append(buf, p.Key...)
}

// Decode parses the payload.
func (p *KeySetPayload) Decode(data []byte) error {
	if len(data) != 18 {
		return ErrInvalidLength
	}
	if data[1] != 16 {
		return ErrInvalidField
	}
	p.KeyType = data[0]
	p.Key = append([]byte(nil), data[2:18]...)
	return nil
}

// ChallengePayload is the osdp_CHLNG payload: the 8-byte RND.A.
type ChallengePayload struct {
	RndA []byte
}

// Encode serializes the payload.
func (p *ChallengePayload) Encode() []byte {
	return append([]byte(nil), p.RndA...)
}

// Decode parses the payload.
func (p *ChallengePayload) Decode(data []byte) error {
	if len(data) != 8 {
		return ErrInvalidLength
	}
	p.RndA = append([]byte(nil), data...)
	return nil
}

// SCryptPayload is the osdp_SCRYPT payload: the 16-byte CP cryptogram.
type SCryptPayload struct {
	Cryptogram []byte
}

// Encode serializes the payload.
func (p *SCryptPayload) Encode() []byte {
	return append([]byte(nil), p.Cryptogram...)
}

// Decode parses the payload.
func (p *SCryptPayload) Decode(data []byte) error {
	if len(data) != 16 {
		return ErrInvalidLength
	}
	p.Cryptogram = append([]byte(nil), data...)
	return nil
}

// MfgPayload is the osdp_MFG payload: a 3-byte vendor code plus opaque data.
type MfgPayload struct {
	VendorCode [3]byte
	Data       []byte
}

// Encode serializes the payload.
func (p *MfgPayload) Encode() []byte {
	buf := make([]byte, 0, 3+len(p.Data))
	buf = append(buf, p.VendorCode[:]...)
	return append(buf, p.Data...)
}

// Decode parses the payload.
func (p *MfgPayload) Decode(data []byte) error {
	if len(data) < 3 {
		return ErrInvalidLength
	}
	copy(p.VendorCode[:], data[:3])
	p.Data = append([]byte(nil), data[3:]...)
	return nil
}

// FileTransferPayload is the osdp_FILETRANSFER payload: one fragment of a
// CP-to-PD file transfer (11-byte header plus the fragment data).
type FileTransferPayload struct {
	// Type identifies the file; CP and PD pre-share the mapping.
	Type uint8

	// Total is the complete file size in bytes.
	Total uint32

	// Offset is the position of this fragment within the file.
	Offset uint32

	// Data is the fragment contents.
	Data []byte
}

// Encode serializes the payload.
func (p *FileTransferPayload) Encode() []byte {
	buf := make([]byte, 0, 11+len(p.Data))
	buf = append(buf, p.Type)
	buf = binary.LittleEndian.AppendUint32(buf, p.Total)
	buf = binary.LittleEndian.AppendUint32(buf, p.Offset)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Data)))
	return append(buf, p.Data...)
}

// Decode parses the payload.
func (p *FileTransferPayload) Decode(data []byte) error {
	if len(data) < 11 {
		return ErrInvalidLength
	}
	p.Type = data[0]
	p.Total = binary.LittleEndian.Uint32(data[1:5])
	p.Offset = binary.LittleEndian.Uint32(data[5:9])
	size := int(binary.LittleEndian.Uint16(data[9:11]))
	if len(data) != 11+size {
		return ErrInvalidLength
	}
	p.Data = append([]byte(nil), data[11:]...)
	return nil
}
