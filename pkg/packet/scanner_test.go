package packet

import (
	"bytes"
	"testing"
)

func mustEncode(t *testing.T, p *Packet) []byte {
	t.Helper()
	frame, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return frame
}

func TestScannerByteAtATime(t *testing.T) {
	frame := mustEncode(t, &Packet{Address: 1, Sequence: 1, UseCRC: true, Code: 0x60})

	s := NewScanner()
	for i, b := range frame {
		s.Write([]byte{b})
		pkt, err := s.Next()
		if err != nil {
			t.Fatalf("Next() after byte %d: %v", i, err)
		}
		if i < len(frame)-1 {
			if pkt != nil {
				t.Fatalf("Next() returned a packet after %d of %d bytes", i+1, len(frame))
			}
			continue
		}
		if pkt == nil {
			t.Fatal("Next() returned nothing after the full frame")
		}
		if pkt.Code != 0x60 {
			t.Errorf("code = 0x%02X, want 0x60", pkt.Code)
		}
	}
}

func TestScannerSkipsNoise(t *testing.T) {
	frame := mustEncode(t, &Packet{Address: 2, Reply: true, Sequence: 1, UseCRC: true, Code: 0x40})

	s := NewScanner()
	s.Write([]byte{0xFF, 0x00, 0x17, 0x42})
	s.Write(frame)

	pkt, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if pkt == nil || pkt.Code != 0x40 {
		t.Fatalf("Next() = %+v, want the ACK frame", pkt)
	}
}

func TestScannerBackToBackFrames(t *testing.T) {
	first := mustEncode(t, &Packet{Address: 1, Sequence: 1, UseCRC: true, Code: 0x60})
	second := mustEncode(t, &Packet{Address: 1, Sequence: 2, UseCRC: true, Code: 0x61})

	s := NewScanner()
	s.Write(append(append([]byte(nil), first...), second...))

	pkt, err := s.Next()
	if err != nil || pkt == nil || pkt.Sequence != 1 {
		t.Fatalf("first Next() = %+v, %v", pkt, err)
	}
	pkt, err = s.Next()
	if err != nil || pkt == nil || pkt.Sequence != 2 {
		t.Fatalf("second Next() = %+v, %v", pkt, err)
	}
	pkt, err = s.Next()
	if pkt != nil || err != nil {
		t.Fatalf("drained Next() = %+v, %v, want nil, nil", pkt, err)
	}
}

// A corrupted frame must not wedge the stream: the scanner reports the
// error, sheds the bad bytes, and still finds the frame behind it.
func TestScannerRecoversFromCorruption(t *testing.T) {
	bad := mustEncode(t, &Packet{Address: 1, Sequence: 1, UseCRC: true, Code: 0x60})
	bad[len(bad)-1] ^= 0xFF
	good := mustEncode(t, &Packet{Address: 1, Sequence: 2, UseCRC: true, Code: 0x60})

	s := NewScanner()
	s.Write(bad)
	s.Write(good)

	var got *Packet
	for i := 0; i < len(bad)+len(good); i++ {
		pkt, err := s.Next()
		if err != nil {
			continue
		}
		if pkt == nil {
			break
		}
		got = pkt
		break
	}

	if got == nil || got.Sequence != 2 {
		t.Fatalf("scanner did not recover the good frame, got %+v", got)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", s.Buffered())
	}
}

func TestScannerReset(t *testing.T) {
	s := NewScanner()
	s.Write(bytes.Repeat([]byte{0x53}, 4))
	s.Reset()
	if s.Buffered() != 0 {
		t.Errorf("Buffered() after Reset = %d, want 0", s.Buffered())
	}
}
