package transport

import (
	"errors"
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// Pipe returns the two ends of an in-memory full-duplex byte link.
// Tests wire a CP to a PD with it and get deterministic, I/O-free runs.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := packetio.NewBuffer()
	b := packetio.NewBuffer()
	return &PipeEnd{read: a, write: b}, &PipeEnd{read: b, write: a}
}

// PipeEnd is one end of a Pipe. It satisfies Transport.
type PipeEnd struct {
	read  *packetio.Buffer
	write *packetio.Buffer
}

// Read reads the next chunk written by the peer.
func (p *PipeEnd) Read(b []byte) (int, error) {
	n, err := p.read.Read(b)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, ErrReadTimeout
		}
		return n, err
	}
	return n, nil
}

// Write delivers bytes to the peer.
func (p *PipeEnd) Write(b []byte) (int, error) {
	return p.write.Write(b)
}

// SetReadDeadline bounds the next Read.
func (p *PipeEnd) SetReadDeadline(t time.Time) error {
	return p.read.SetReadDeadline(t)
}

// Close closes both directions.
func (p *PipeEnd) Close() error {
	if err := p.read.Close(); err != nil {
		return err
	}
	return p.write.Close()
}
