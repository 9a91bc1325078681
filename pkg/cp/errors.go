package cp

import (
	"errors"
	"time"
)

// Control panel errors.
var (
	// ErrDeviceExists indicates a device already registered at an address.
	ErrDeviceExists = errors.New("cp: device already registered")

	// ErrDeviceNotFound indicates no device at the given address.
	ErrDeviceNotFound = errors.New("cp: device not registered")

	// ErrCommandQueueFull indicates the per-device queue hit its bound.
	ErrCommandQueueFull = errors.New("cp: command queue full")

	// ErrDeviceOffline indicates a submit to an offline device.
	ErrDeviceOffline = errors.New("cp: device offline")

	// ErrSecureRequired indicates a secure-only command on a link with
	// no established secure channel.
	ErrSecureRequired = errors.New("cp: command requires secure channel")

	// ErrNoSecureChannel indicates a plaintext device has no secure
	// channel state to report.
	ErrNoSecureChannel = errors.New("cp: device has no secure channel")

	// ErrUnexpectedReply mirrors the registry violation for callers.
	ErrUnexpectedReply = errors.New("cp: unexpected reply type")

	// ErrTimeout reports a command that exhausted its retry budget.
	ErrTimeout = errors.New("cp: device did not reply")

	// ErrTransferActive indicates a file transfer already in progress.
	ErrTransferActive = errors.New("cp: file transfer already in progress")

	// ErrTransferRejected indicates the PD aborted a file transfer.
	ErrTransferRejected = errors.New("cp: PD rejected file transfer")

	// ErrNoTransfer indicates a status query with no transfer running.
	ErrNoTransfer = errors.New("cp: no file transfer in progress")

	// ErrInvalidFileSize indicates a transfer of zero or negative size.
	ErrInvalidFileSize = errors.New("cp: file size must be positive")
)

// Timing defaults. OSDP polls continuously; the reply timeout covers the
// worst-case turnaround at 9600 baud with a full-size frame.
const (
	// DefaultPollInterval is the per-device keep-alive cadence.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultResponseTimeout bounds the wait for a reply.
	DefaultResponseTimeout = 200 * time.Millisecond

	// DefaultOfflineRetryInterval is the re-probe cadence for offline
	// devices.
	DefaultOfflineRetryInterval = 1 * time.Second

	// DefaultMaxRetries is the consecutive-timeout budget before a
	// device is declared offline.
	DefaultMaxRetries = 3

	// DefaultTurnaroundGap is the minimum quiet time between any two
	// transmissions on the half-duplex bus.
	DefaultTurnaroundGap = 2 * time.Millisecond

	// DefaultCommandQueueSize bounds queued application commands.
	DefaultCommandQueueSize = 8

	// DefaultFileFragmentSize is the osdp_FILETRANSFER fragment size
	// until the PD advertises its own limit.
	DefaultFileFragmentSize = 128
)
