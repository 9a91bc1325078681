package pd

import "errors"

// Peripheral errors.
var (
	// ErrClosed indicates the peripheral was closed.
	ErrClosed = errors.New("pd: closed")

	// ErrEventQueueFull indicates the event queue hit its bound.
	ErrEventQueueFull = errors.New("pd: event queue full")

	// ErrNoSecureChannel indicates a secure operation without a key.
	ErrNoSecureChannel = errors.New("pd: no secure channel key configured")

	// ErrNoSuchPoint indicates an input or output point out of range.
	ErrNoSuchPoint = errors.New("pd: no such point")
)

// Defaults.
const (
	// DefaultEventQueueSize bounds the card/keypad event queue.
	DefaultEventQueueSize = 16

	// FileFragmentMax is the largest osdp_FILETRANSFER fragment the PD
	// accepts, advertised to the CP in every osdp_FTSTAT.
	FileFragmentMax = 128
)
