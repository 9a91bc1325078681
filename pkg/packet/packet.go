// Package packet implements the OSDP wire format: frame layout, the two
// check value schemes (8-bit checksum and CRC-16), security control blocks
// and length-driven stream scanning.
//
// See IEC 60839-11-5 Section 6 (message structure).
package packet

import "encoding/binary"

// Security control block (SCB) types, SCS_11 through SCS_18.
// The SCB rides between the control byte and the command/reply code when
// the control byte has the security flag set.
const (
	// SCS11 carries osdp_CHLNG (handshake step 1).
	SCS11 byte = 0x11

	// SCS12 carries osdp_CCRYPT (handshake step 2).
	SCS12 byte = 0x12

	// SCS13 carries osdp_SCRYPT (handshake step 3).
	SCS13 byte = 0x13

	// SCS14 carries osdp_RMAC_I (handshake step 4).
	SCS14 byte = 0x14

	// SCS15 and SCS16 authenticate a frame with no data payload.
	SCS15 byte = 0x15
	SCS16 byte = 0x16

	// SCS17 and SCS18 authenticate a frame with an encrypted payload.
	SCS17 byte = 0x17
	SCS18 byte = 0x18
)

// SecurityBlock is the decoded SCB of a secure frame.
type SecurityBlock struct {
	// Type is one of the SCS block types.
	Type byte

	// Data is the block payload (e.g. the SCBK/SCBK-D selector for SCS_11).
	Data []byte
}

// HasMAC reports whether frames carrying this block type end with a
// 4-byte MAC before the check value (SCS_15 onward).
func (b *SecurityBlock) HasMAC() bool {
	return b.Type >= SCS15
}

// size returns the encoded SCB size: length byte + type byte + data.
func (b *SecurityBlock) size() int {
	return 2 + len(b.Data)
}

// Packet is a single decoded OSDP frame.
type Packet struct {
	// Address is the 7-bit PD address (0x7F broadcasts to all PDs).
	Address uint8

	// Reply marks PD-to-CP direction; on the wire it is the top bit of
	// the address byte.
	Reply bool

	// Sequence is the 2-bit frame sequence number (0-3).
	Sequence uint8

	// UseCRC selects CRC-16 over the legacy 8-bit checksum.
	UseCRC bool

	// SCB is present on secure-channel frames, nil otherwise.
	SCB *SecurityBlock

	// Code is the command code (CP-to-PD) or reply code (PD-to-CP).
	Code uint8

	// Payload is the data following the code. For SCS_17/18 frames it is
	// still encrypted at this layer.
	Payload []byte

	// MAC is the 4-byte message authentication code of SCS_15..18 frames.
	MAC []byte
}

// Size returns the whole-frame encoded size in bytes.
func (p *Packet) Size() int {
	size := HeaderSize + 1 + len(p.Payload) // header + code
	if p.SCB != nil {
		size += p.SCB.size()
		if p.SCB.HasMAC() {
			size += MACSize
		}
	}
	if p.UseCRC {
		size += 2
	} else {
		size++
	}
	return size
}

// MACData returns the frame bytes covered by the secure channel MAC:
// everything from SOM through the end of the payload, excluding the MAC
// field and check value. Encoding is canonical, so sender and receiver
// compute identical bytes.
func (p *Packet) MACData() ([]byte, error) {
	full, err := p.encodePrefix()
	if err != nil {
		return nil, err
	}
	return full, nil
}

// encodePrefix encodes the frame up to (not including) the MAC field.
func (p *Packet) encodePrefix() ([]byte, error) {
	if p.Address > BroadcastAddress {
		return nil, ErrInvalidAddress
	}

	total := p.Size()
	if total > MaxPacketSize {
		return nil, ErrPayloadTooLong
	}

	prefixLen := HeaderSize + 1 + len(p.Payload)
	if p.SCB != nil {
		prefixLen += p.SCB.size()
	}

	buf := make([]byte, prefixLen)
	buf[0] = SOM

	addr := p.Address
	if p.Reply {
		addr |= ReplyAddressFlag
	}
	buf[1] = addr

	binary.LittleEndian.PutUint16(buf[2:4], uint16(total))

	ctrl := p.Sequence & ctrlSequenceMask
	if p.UseCRC {
		ctrl |= ctrlCRCFlag
	}
	if p.SCB != nil {
		ctrl |= ctrlSCBFlag
	}
	buf[4] = ctrl

	offset := HeaderSize
	if p.SCB != nil {
		buf[offset] = byte(p.SCB.size())
		buf[offset+1] = p.SCB.Type
		copy(buf[offset+2:], p.SCB.Data)
		offset += p.SCB.size()
	}

	buf[offset] = p.Code
	offset++
	copy(buf[offset:], p.Payload)

	return buf, nil
}

// Encode serializes the packet to wire format: prefix, MAC field for
// secure data frames, then the check value.
func (p *Packet) Encode() ([]byte, error) {
	prefix, err := p.encodePrefix()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(prefix), p.Size())
	copy(buf, prefix)

	if p.SCB != nil && p.SCB.HasMAC() {
		buf = append(buf, p.MAC...)
	}

	if p.UseCRC {
		buf = binary.LittleEndian.AppendUint16(buf, CRC16(buf))
	} else {
		buf = append(buf, Checksum(buf))
	}

	return buf, nil
}

// Decode parses exactly one frame from data. The buffer must hold the whole
// frame; callers accumulating from a stream should use Scanner instead.
// On any error no packet is returned.
func Decode(data []byte) (*Packet, error) {
	if len(data) < MinPacketSize {
		return nil, ErrTruncated
	}
	if data[0] != SOM {
		return nil, ErrNoSOM
	}

	declared := int(binary.LittleEndian.Uint16(data[2:4]))
	if declared > MaxPacketSize {
		return nil, ErrPacketTooLong
	}
	if declared < MinPacketSize {
		return nil, ErrLengthMismatch
	}
	if len(data) < declared {
		return nil, ErrTruncated
	}
	frame := data[:declared]

	p := &Packet{
		Address:  frame[1] &^ ReplyAddressFlag,
		Reply:    frame[1]&ReplyAddressFlag != 0,
		Sequence: frame[4] & ctrlSequenceMask,
		UseCRC:   frame[4]&ctrlCRCFlag != 0,
	}

	// Verify the check value before touching anything else.
	checkLen := 1
	if p.UseCRC {
		checkLen = 2
	}
	if declared <= HeaderSize+checkLen {
		return nil, ErrLengthMismatch
	}
	body := frame[:declared-checkLen]
	if p.UseCRC {
		want := binary.LittleEndian.Uint16(frame[declared-2:])
		if CRC16(body) != want {
			return nil, ErrCRCInvalid
		}
	} else {
		if Checksum(body) != frame[declared-1] {
			return nil, ErrChecksumInvalid
		}
	}

	offset := HeaderSize
	if frame[4]&ctrlSCBFlag != 0 {
		if offset >= len(body) {
			return nil, ErrInvalidSCB
		}
		scbLen := int(body[offset])
		if scbLen < 2 || offset+scbLen > len(body) {
			return nil, ErrInvalidSCB
		}
		scb := &SecurityBlock{Type: body[offset+1]}
		if scbLen > 2 {
			scb.Data = make([]byte, scbLen-2)
			copy(scb.Data, body[offset+2:offset+scbLen])
		}
		p.SCB = scb
		offset += scbLen
	}

	if offset >= len(body) {
		return nil, ErrLengthMismatch
	}
	p.Code = body[offset]
	offset++

	rest := body[offset:]
	if p.SCB != nil && p.SCB.HasMAC() {
		if len(rest) < MACSize {
			return nil, ErrLengthMismatch
		}
		p.MAC = make([]byte, MACSize)
		copy(p.MAC, rest[len(rest)-MACSize:])
		rest = rest[:len(rest)-MACSize]
	}
	if len(rest) > 0 {
		p.Payload = make([]byte, len(rest))
		copy(p.Payload, rest)
	}

	return p, nil
}
