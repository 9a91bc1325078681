// Package secure implements the OSDP secure channel: the four-step
// challenge handshake that derives a session key set from the pre-shared
// SCBK, and the per-frame encrypt + MAC operations once established.
//
// The package owns key lifetimes only. Frame construction is pkg/packet's
// job and handshake scheduling belongs to the CP/PD state machines.
package secure

import (
	"github.com/pion/logging"

	"github.com/osdp-go/osdp/pkg/crypto"
)

// State is the secure channel establishment state.
type State int

const (
	// StateIdle means no handshake has started.
	StateIdle State = iota

	// StateChallengeSent means the CP has issued osdp_CHLNG (CP role) or
	// the PD has answered one with osdp_CCRYPT (PD role).
	StateChallengeSent

	// StateChallengeReceived means the CP has verified the PD cryptogram
	// and is waiting for osdp_RMAC_I.
	StateChallengeReceived

	// StateEstablished means the session keys are live.
	StateEstablished

	// StateBroken means a MAC or cryptogram check failed. Only a full
	// re-handshake from Idle recovers the channel.
	StateBroken
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateChallengeSent:
		return "ChallengeSent"
	case StateChallengeReceived:
		return "ChallengeReceived"
	case StateEstablished:
		return "Established"
	case StateBroken:
		return "Broken"
	default:
		return "Unknown"
	}
}

// Event is a channel lifecycle event consumed by the device state machine.
type Event int

const (
	// EventNone means nothing happened since the last poll.
	EventNone Event = iota

	// EventEstablished fires once when the handshake completes.
	EventEstablished

	// EventBroken fires once when the channel drops to Broken.
	EventBroken
)

// Role selects which half of the handshake this channel plays.
type Role int

const (
	// RoleCP initiates the handshake.
	RoleCP Role = iota

	// RolePD responds to it.
	RolePD
)

// Channel is the secure channel context for a single CP-PD link.
// It is owned exclusively by that device's state machine and must not be
// shared across goroutines.
type Channel struct {
	role  Role
	state State
	event Event

	scbk       []byte
	defaultKey bool

	rndA []byte
	rndB []byte

	keys *sessionKeys

	// cpCrypto is retained between SCRYPT and RMAC_I on the CP side.
	cpCrypto []byte

	// lastMAC is the rolling 16-byte MAC chain state. Frames alternate
	// strictly on the half-duplex link, so one value serves both
	// directions: each new MAC is chained off the previous frame's.
	lastMAC []byte

	log logging.LeveledLogger
}

// Config configures a Channel.
type Config struct {
	// Role selects CP or PD behavior.
	Role Role

	// SCBK is the 16-byte pre-shared secure channel base key.
	SCBK []byte

	// LoggerFactory creates the channel logger. Defaults to the pion
	// default factory when nil.
	LoggerFactory logging.LoggerFactory
}

// NewChannel creates an idle secure channel.
func NewChannel(config Config) (*Channel, error) {
	if len(config.SCBK) != crypto.KeySize {
		return nil, ErrInvalidKey
	}

	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}

	scbk := make([]byte, crypto.KeySize)
	copy(scbk, config.SCBK)

	return &Channel{
		role:       config.Role,
		state:      StateIdle,
		scbk:       scbk,
		defaultKey: crypto.MACEqual(scbk, SCBKDefault),
		log:        factory.NewLogger("osdp-secure"),
	}, nil
}

// State returns the current establishment state.
func (c *Channel) State() State {
	return c.state
}

// Established reports whether secure traffic may flow.
func (c *Channel) Established() bool {
	return c.state == StateEstablished
}

// Insecure reports whether the channel is keyed with SCBK-D.
func (c *Channel) Insecure() bool {
	return c.defaultKey
}

// ConsumeEvent returns the pending lifecycle event, at most once.
func (c *Channel) ConsumeEvent() Event {
	ev := c.event
	c.event = EventNone
	return ev
}

// Reset zeroizes all session material and returns the channel to Idle.
func (c *Channel) Reset() {
	if c.keys != nil {
		c.keys.zeroize()
		c.keys = nil
	}
	crypto.Zeroize(c.rndA)
	crypto.Zeroize(c.rndB)
	crypto.Zeroize(c.cpCrypto)
	crypto.Zeroize(c.lastMAC)
	c.rndA = nil
	c.rndB = nil
	c.cpCrypto = nil
	c.lastMAC = nil
	c.state = StateIdle
	c.event = EventNone
}

// breakChannel drops the channel to Broken and queues the event.
func (c *Channel) breakChannel() {
	if c.keys != nil {
		c.keys.zeroize()
		c.keys = nil
	}
	c.state = StateBroken
	c.event = EventBroken
	c.log.Warn("secure channel broken")
}

// StartHandshake begins the CP-side handshake, producing the RND.A
// challenge for osdp_CHLNG. Callable from Idle or Broken (re-handshake).
func (c *Channel) StartHandshake() ([]byte, error) {
	if c.role != RoleCP {
		return nil, ErrBadState
	}
	c.Reset()

	rndA, err := crypto.RandomBytes(ChallengeSize)
	if err != nil {
		return nil, err
	}
	c.rndA = rndA
	c.state = StateChallengeSent
	c.log.Debug("handshake started, CHLNG issued")

	out := make([]byte, ChallengeSize)
	copy(out, rndA)
	return out, nil
}

// HandleCCrypt verifies the PD cryptogram from osdp_CCRYPT and returns the
// CP cryptogram for osdp_SCRYPT. CP side only.
func (c *Channel) HandleCCrypt(rndB, pdCryptogram []byte) ([]byte, error) {
	if c.role != RoleCP || c.state != StateChallengeSent {
		return nil, ErrBadState
	}
	if len(rndB) != ChallengeSize {
		return nil, ErrInvalidChallenge
	}
	if len(pdCryptogram) != CryptogramSize {
		return nil, ErrInvalidCryptogramSize
	}

	keys, err := deriveSessionKeys(c.scbk, c.rndA)
	if err != nil {
		return nil, err
	}

	want, err := keys.pdCryptogram(c.rndA, rndB)
	if err != nil {
		keys.zeroize()
		return nil, err
	}
	if !crypto.MACEqual(want, pdCryptogram) {
		keys.zeroize()
		c.breakChannel()
		return nil, ErrCryptogramInvalid
	}

	cpCrypto, err := keys.cpCryptogram(c.rndA, rndB)
	if err != nil {
		keys.zeroize()
		return nil, err
	}

	c.keys = keys
	c.rndB = append([]byte(nil), rndB...)
	c.cpCrypto = cpCrypto
	c.state = StateChallengeReceived

	out := make([]byte, CryptogramSize)
	copy(out, cpCrypto)
	return out, nil
}

// HandleRMACI verifies the initial reply MAC from osdp_RMAC_I and brings
// the channel to Established. CP side only.
func (c *Channel) HandleRMACI(rmacI []byte) error {
	if c.role != RoleCP || c.state != StateChallengeReceived {
		return ErrBadState
	}
	if len(rmacI) != CryptogramSize {
		return ErrInvalidCryptogramSize
	}

	want, err := c.keys.initialRMAC(c.cpCrypto)
	if err != nil {
		return err
	}
	if !crypto.MACEqual(want, rmacI) {
		c.breakChannel()
		return ErrCryptogramInvalid
	}

	c.lastMAC = want
	c.state = StateEstablished
	c.event = EventEstablished
	c.log.Info("secure channel established")
	return nil
}

// HandleChallenge is the PD half of osdp_CHLNG: derive the session keys,
// generate RND.B and return it with the PD cryptogram for osdp_CCRYPT.
func (c *Channel) HandleChallenge(rndA []byte) (rndB, pdCryptogram []byte, err error) {
	if c.role != RolePD {
		return nil, nil, ErrBadState
	}
	if len(rndA) != ChallengeSize {
		return nil, nil, ErrInvalidChallenge
	}
	// A CP may restart the handshake at any point; the PD follows.
	c.Reset()

	keys, err := deriveSessionKeys(c.scbk, rndA)
	if err != nil {
		return nil, nil, err
	}

	b, err := crypto.RandomBytes(ChallengeSize)
	if err != nil {
		keys.zeroize()
		return nil, nil, err
	}

	pdCrypto, err := keys.pdCryptogram(rndA, b)
	if err != nil {
		keys.zeroize()
		return nil, nil, err
	}

	c.keys = keys
	c.rndA = append([]byte(nil), rndA...)
	c.rndB = b
	c.state = StateChallengeSent

	out := make([]byte, ChallengeSize)
	copy(out, b)
	return out, pdCrypto, nil
}

// HandleSCrypt is the PD half of osdp_SCRYPT: verify the CP cryptogram and
// return RMAC_I, transitioning to Established.
func (c *Channel) HandleSCrypt(cpCryptogram []byte) ([]byte, error) {
	if c.role != RolePD || c.state != StateChallengeSent {
		return nil, ErrBadState
	}
	if len(cpCryptogram) != CryptogramSize {
		return nil, ErrInvalidCryptogramSize
	}

	want, err := c.keys.cpCryptogram(c.rndA, c.rndB)
	if err != nil {
		return nil, err
	}
	if !crypto.MACEqual(want, cpCryptogram) {
		c.breakChannel()
		return nil, ErrCryptogramInvalid
	}

	rmacI, err := c.keys.initialRMAC(cpCryptogram)
	if err != nil {
		return nil, err
	}

	c.lastMAC = rmacI
	c.state = StateEstablished
	c.event = EventEstablished
	c.log.Info("secure channel established")

	out := make([]byte, CryptogramSize)
	copy(out, rmacI)
	return out, nil
}

// EncryptPayload encrypts a command/reply payload for an SCS_17/18 frame.
// The IV is the bitwise complement of the previous frame's MAC, so encrypt
// must run before Sign for the same frame.
func (c *Channel) EncryptPayload(plaintext []byte) ([]byte, error) {
	if c.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	return crypto.CBCEncrypt(c.keys.senc, c.invertedLastMAC(), crypto.Pad(plaintext))
}

// decryptWithIV decrypts an SCS_17/18 payload and strips the padding.
// The IV is the complement of the chain state before Verify advanced it,
// so Verify captures it and passes it in.
func (c *Channel) decryptWithIV(iv, ciphertext []byte) ([]byte, error) {
	plain, err := crypto.CBCDecrypt(c.keys.senc, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	return crypto.Unpad(plain)
}

// Sign computes the 4-byte wire MAC over the frame bytes preceding the MAC
// field and advances the rolling chain.
func (c *Channel) Sign(frame []byte) ([]byte, error) {
	if c.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	mac, err := crypto.ChainedMAC(c.keys.smac1, c.keys.smac2, c.lastMAC, frame)
	if err != nil {
		return nil, err
	}
	c.lastMAC = mac
	return mac[:4], nil
}

// Verify checks an incoming frame's 4-byte MAC and, when the frame carries
// an encrypted payload, decrypts it using the pre-advance chain state.
// A mismatch breaks the channel. On success the chain advances and the
// decrypted payload (nil for MAC-only frames) is returned.
func (c *Channel) Verify(frame, mac []byte, encryptedPayload []byte) ([]byte, error) {
	if c.state != StateEstablished {
		return nil, ErrNotEstablished
	}

	iv := c.invertedLastMAC()
	full, err := crypto.ChainedMAC(c.keys.smac1, c.keys.smac2, c.lastMAC, frame)
	if err != nil {
		return nil, err
	}
	if !crypto.MACEqual(full[:4], mac) {
		c.breakChannel()
		return nil, ErrMACInvalid
	}
	c.lastMAC = full

	if len(encryptedPayload) == 0 {
		return nil, nil
	}
	plain, err := c.decryptWithIV(iv, encryptedPayload)
	if err != nil {
		// Padding damage with a valid MAC should not happen; treat it
		// as tampering all the same.
		c.breakChannel()
		return nil, err
	}
	return plain, nil
}

// invertedLastMAC returns ^lastMAC, the CBC IV for payload encryption.
func (c *Channel) invertedLastMAC() []byte {
	iv := make([]byte, len(c.lastMAC))
	for i, b := range c.lastMAC {
		iv[i] = ^b
	}
	return iv
}
