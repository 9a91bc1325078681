package command

import (
	"bytes"
	"errors"
	"testing"
)

func TestLEDPayloadRoundtrip(t *testing.T) {
	p := LEDPayload{
		Reader:    0,
		LEDNumber: 2,
		Temporary: LEDParams{ControlCode: 2, OnCount: 5, OffCount: 5, OnColor: 1, OffColor: 2},
		Timer:     30,
		Permanent: LEDParams{ControlCode: 1, OnColor: 2},
	}
	buf := p.Encode()
	if len(buf) != 14 {
		t.Fatalf("encoded length = %d, want 14", len(buf))
	}

	var got LEDPayload
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got != p {
		t.Errorf("roundtrip = %+v, want %+v", got, p)
	}

	if err := got.Decode(buf[:13]); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(short) = %v, want ErrInvalidLength", err)
	}
}

func TestOutputSetPayloadMultiple(t *testing.T) {
	p := OutputSetPayload{Controls: []OutputControl{
		{OutputNumber: 0, ControlCode: 0x02, Timer: 0},
		{OutputNumber: 1, ControlCode: 0x06, Timer: 50},
	}}
	buf := p.Encode()
	if len(buf) != 8 {
		t.Fatalf("encoded length = %d, want 8", len(buf))
	}

	var got OutputSetPayload
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(got.Controls) != 2 || got.Controls[1].Timer != 50 {
		t.Errorf("roundtrip = %+v", got.Controls)
	}

	// Entries are 4 bytes each; a ragged length is malformed.
	if err := got.Decode(buf[:6]); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(ragged) = %v, want ErrInvalidLength", err)
	}
}

func TestTextPayload(t *testing.T) {
	p := TextPayload{Reader: 0, ControlCode: 1, Text: []byte("OPEN")}
	var got TextPayload
	if err := got.Decode(p.Encode()); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !bytes.Equal(got.Text, p.Text) {
		t.Errorf("text = %q, want %q", got.Text, p.Text)
	}

	// Length byte disagreeing with the actual text is malformed.
	buf := p.Encode()
	buf[5] = 10
	if err := got.Decode(buf); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(bad length byte) = %v, want ErrInvalidLength", err)
	}
}

func TestComSetPayloadValidation(t *testing.T) {
	p := ComSetPayload{Address: 3, BaudRate: 115200}
	var got ComSetPayload
	if err := got.Decode(p.Encode()); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got != p {
		t.Errorf("roundtrip = %+v, want %+v", got, p)
	}

	bad := p.Encode()
	bad[0] = 0x90
	if err := got.Decode(bad); !errors.Is(err, ErrInvalidField) {
		t.Errorf("Decode(address 0x90) = %v, want ErrInvalidField", err)
	}
}

func TestKeySetPayloadValidation(t *testing.T) {
	p := KeySetPayload{KeyType: 0x01, Key: bytes.Repeat([]byte{0xA5}, 16)}
	var got KeySetPayload
	if err := got.Decode(p.Encode()); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !bytes.Equal(got.Key, p.Key) {
		t.Errorf("key = %x, want %x", got.Key, p.Key)
	}

	bad := p.Encode()
	bad[1] = 8 // wrong key length marker
	if err := got.Decode(bad); !errors.Is(err, ErrInvalidField) {
		t.Errorf("Decode(bad key length) = %v, want ErrInvalidField", err)
	}
}

func TestCCryptPayload(t *testing.T) {
	p := CCryptPayload{
		ClientUID:  bytes.Repeat([]byte{0x01}, 8),
		RndB:       bytes.Repeat([]byte{0x02}, 8),
		Cryptogram: bytes.Repeat([]byte{0x03}, 16),
	}
	buf := p.Encode()
	if len(buf) != 32 {
		t.Fatalf("encoded length = %d, want 32", len(buf))
	}

	var got CCryptPayload
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !bytes.Equal(got.RndB, p.RndB) || !bytes.Equal(got.Cryptogram, p.Cryptogram) {
		t.Errorf("roundtrip = %+v", got)
	}
	if err := got.Decode(buf[:31]); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(short) = %v, want ErrInvalidLength", err)
	}
}

func TestFileTransferPayload(t *testing.T) {
	p := FileTransferPayload{
		Type:   3,
		Total:  1000,
		Offset: 256,
		Data:   bytes.Repeat([]byte{0x5A}, 128),
	}
	buf := p.Encode()
	if len(buf) != 11+128 {
		t.Fatalf("encoded length = %d, want %d", len(buf), 11+128)
	}

	var got FileTransferPayload
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Type != 3 || got.Total != 1000 || got.Offset != 256 || !bytes.Equal(got.Data, p.Data) {
		t.Errorf("roundtrip = %+v", got)
	}

	// Declared fragment size must match the bytes present.
	if err := got.Decode(buf[:20]); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(truncated) = %v, want ErrInvalidLength", err)
	}
	if err := got.Decode(buf[:10]); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(short header) = %v, want ErrInvalidLength", err)
	}
}

func TestFTStatPayload(t *testing.T) {
	p := FTStatPayload{Action: 1, Delay: 250, Status: FTStatusAbort, UpdateMsgMax: 128}
	buf := p.Encode()
	if len(buf) != 7 {
		t.Fatalf("encoded length = %d, want 7", len(buf))
	}

	var got FTStatPayload
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got != p {
		t.Errorf("roundtrip = %+v, want %+v", got, p)
	}
	if got.Status >= 0 {
		t.Error("negative status lost its sign on the wire")
	}
	if err := got.Decode(buf[:6]); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(short) = %v, want ErrInvalidLength", err)
	}
}

func TestNakReasonStrings(t *testing.T) {
	if got := NakSeqNum.String(); got == "" {
		t.Error("NakSeqNum.String() is empty")
	}
	if NakReason(0xEF).String() == NakSeqNum.String() {
		t.Error("unknown reason collides with a known one")
	}
}
