package packet

import "encoding/binary"

// Scanner accumulates bytes from a transport and extracts whole frames.
// Framing is length-driven: there is no escaping in OSDP, so the scanner
// hunts for SOM, waits until the declared length is buffered, then decodes.
//
// A Scanner is not safe for concurrent use; each link direction owns one.
type Scanner struct {
	buf []byte
}

// NewScanner creates an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Write appends a chunk of received bytes. Chunks may split frames at any
// byte boundary. It never fails; the error is for io.Writer compatibility.
func (s *Scanner) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes awaiting frame extraction.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Reset discards all buffered bytes.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}

// Next extracts the next complete frame. It returns (nil, nil) when the
// buffer does not yet hold a whole frame. A frame that fails to decode is
// consumed and its error returned; the caller discards it and keeps going.
func (s *Scanner) Next() (*Packet, error) {
	for {
		// Drop noise ahead of the next SOM.
		start := 0
		for start < len(s.buf) && s.buf[start] != SOM {
			start++
		}
		if start > 0 {
			s.buf = s.buf[start:]
		}

		if len(s.buf) < HeaderSize {
			return nil, nil
		}

		declared := int(binary.LittleEndian.Uint16(s.buf[2:4]))
		if declared < MinPacketSize || declared > MaxPacketSize {
			// Bogus length; this SOM was noise. Skip it and rescan.
			s.buf = s.buf[1:]
			continue
		}
		if len(s.buf) < declared {
			return nil, nil
		}

		p, err := Decode(s.buf[:declared])
		if err != nil {
			// Consume one byte so a corrupted frame cannot wedge the
			// stream, then surface the error for this attempt.
			s.buf = s.buf[1:]
			return nil, err
		}
		s.buf = s.buf[declared:]
		return p, nil
	}
}
