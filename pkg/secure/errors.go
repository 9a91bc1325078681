package secure

import "errors"

// Secure channel errors. MAC and cryptogram failures are fatal to the
// channel: the state machine drops to Broken and a full re-handshake is
// required. Stale key material is never retried.
var (
	// ErrMACInvalid indicates an incoming frame failed MAC verification.
	ErrMACInvalid = errors.New("secure: MAC verification failed")

	// ErrCryptogramInvalid indicates a handshake cryptogram did not prove
	// possession of the shared SCBK.
	ErrCryptogramInvalid = errors.New("secure: cryptogram verification failed")

	// ErrNotEstablished indicates an encrypt/decrypt/MAC operation was
	// attempted before the handshake completed.
	ErrNotEstablished = errors.New("secure: channel not established")

	// ErrBroken indicates the channel is broken and must be re-established.
	ErrBroken = errors.New("secure: channel broken, re-handshake required")

	// ErrBadState indicates a handshake message arrived out of order.
	ErrBadState = errors.New("secure: handshake message in wrong state")

	// ErrInvalidChallenge indicates a challenge of the wrong size.
	ErrInvalidChallenge = errors.New("secure: invalid challenge length")

	// ErrInvalidCryptogramSize indicates a cryptogram of the wrong size.
	ErrInvalidCryptogramSize = errors.New("secure: invalid cryptogram length")

	// ErrInvalidKey indicates an SCBK that is not 16 bytes.
	ErrInvalidKey = errors.New("secure: SCBK must be 16 bytes")
)

// Sizes from IEC 60839-11-5 Annex D.
const (
	// ChallengeSize is the RND.A / RND.B length in bytes.
	ChallengeSize = 8

	// CryptogramSize is the CP/PD cryptogram and RMAC_I length in bytes.
	CryptogramSize = 16

	// UIDSize is the PD client UID carried in osdp_CCRYPT.
	UIDSize = 8
)

// SCBKDefault is SCBK-D, the well-known default key (ASCII 0x30..0x3F)
// used only to install a real SCBK on factory-fresh devices. Channels
// keyed with it report Insecure().
var SCBKDefault = []byte{
	0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37,
	0x38, 0x39, 0x3a, 0x3b, 0x3c, 0x3d, 0x3e, 0x3f,
}
