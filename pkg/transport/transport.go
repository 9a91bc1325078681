// Package transport supplies the byte-stream collaborators the protocol
// engine is driven through: a real serial port and an in-memory pipe for
// tests. The engine itself never blocks on these; it consumes chunks the
// caller reads and hands back whole frames to write.
package transport

import (
	"errors"
	"io"
	"time"
)

// Errors common to transports.
var (
	// ErrClosed indicates I/O on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrReadTimeout indicates no bytes arrived before the deadline.
	ErrReadTimeout = errors.New("transport: read timeout")
)

// Transport is a half-duplex byte-stream link to the OSDP bus.
// Reads return whatever bytes are available; frame boundaries are
// recovered by pkg/packet's length-driven scanner, never assumed here.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline bounds the next Read. A zero time removes the bound.
	SetReadDeadline(t time.Time) error
}
