package cp

import (
	"time"

	"github.com/pion/logging"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/packet"
	"github.com/osdp-go/osdp/pkg/secure"
)

// DeviceState is the CP-side per-device protocol state.
type DeviceState int

const (
	// DeviceOffline means the retry budget was exhausted; the device is
	// re-probed at the offline retry interval.
	DeviceOffline DeviceState = iota

	// DeviceSecureHandshake means the secure channel handshake is being
	// driven before normal traffic resumes.
	DeviceSecureHandshake

	// DevicePolling means no command is outstanding.
	DevicePolling

	// DeviceAwaitingReply means a command is in flight.
	DeviceAwaitingReply
)

// String returns the state name.
func (s DeviceState) String() string {
	switch s {
	case DeviceOffline:
		return "Offline"
	case DeviceSecureHandshake:
		return "SecureHandshake"
	case DevicePolling:
		return "Polling"
	case DeviceAwaitingReply:
		return "AwaitingReply"
	default:
		return "Unknown"
	}
}

// DeviceConfig configures one polled device.
type DeviceConfig struct {
	// Address is the PD bus address (0x00-0x7E).
	Address uint8

	// SCBK enables the secure channel when set. When nil the bus asks
	// its key provider; if neither supplies a key the link stays
	// plaintext.
	SCBK []byte

	// UseChecksum selects the legacy 8-bit checksum over CRC-16.
	UseChecksum bool

	// PollInterval, ResponseTimeout, OfflineRetryInterval and MaxRetries
	// default to the package constants when zero.
	PollInterval         time.Duration
	ResponseTimeout      time.Duration
	OfflineRetryInterval time.Duration
	MaxRetries           int

	// QueueSize bounds pending application commands.
	QueueSize int
}

// ReplyFunc receives the outcome of a submitted command: the reply code
// and decoded-payload bytes on success, or an error when the command was
// dropped (timeout, device offline, deregistration does NOT fire it).
type ReplyFunc func(reply command.ReplyCode, payload []byte, err error)

// queuedCommand is an application command waiting its turn.
type queuedCommand struct {
	code    command.Code
	payload []byte
	done    ReplyFunc
}

// pendingCommand is the single in-flight command slot.
type pendingCommand struct {
	code  command.Code
	seq   uint8
	frame []byte // exact wire bytes, retransmitted verbatim

	// plaintext payload kept for the resync rebuild.
	payload []byte
	done    ReplyFunc

	// sendAt schedules (re)transmission; zero means already sent.
	sendAt   time.Time
	deadline time.Time
}

// Device is the per-PD protocol context. It is owned by one Bus and only
// ever touched under the bus mutex.
type Device struct {
	config DeviceConfig

	state   DeviceState
	seq     uint8
	channel *secure.Channel
	scanner *packet.Scanner

	pending *pendingCommand
	queue   []queuedCommand

	retries  int
	resynced bool

	// scryptFrame is staged between CCRYPT and SCRYPT.
	scryptFrame *pendingCommand

	// ft is the in-progress file transfer, nil otherwise.
	ft *fileTransfer

	online      bool
	lastPollAt  time.Time
	nextProbeAt time.Time

	// holdoff delays the next exchange after an osdp_BUSY reply.
	holdoff time.Time

	log logging.LeveledLogger
}

// newDevice creates a device context with defaults applied.
func newDevice(config DeviceConfig, factory logging.LoggerFactory) (*Device, error) {
	if config.Address > 0x7E {
		return nil, packet.ErrInvalidAddress
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}
	if config.OfflineRetryInterval == 0 {
		config.OfflineRetryInterval = DefaultOfflineRetryInterval
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.QueueSize == 0 {
		config.QueueSize = DefaultCommandQueueSize
	}

	// First contact is the seq-0 resync poll from the offline probe
	// path; a keyed device opens with the handshake instead.
	d := &Device{
		config:  config,
		state:   DeviceOffline,
		scanner: packet.NewScanner(),
		log:     factory.NewLogger("osdp-cp"),
	}

	if config.SCBK != nil {
		ch, err := secure.NewChannel(secure.Config{
			Role:          secure.RoleCP,
			SCBK:          config.SCBK,
			LoggerFactory: factory,
		})
		if err != nil {
			return nil, err
		}
		d.channel = ch
		d.state = DeviceSecureHandshake
	}

	return d, nil
}

// State returns the device protocol state.
func (d *Device) State() DeviceState {
	return d.state
}

// Online reports whether the device is currently responding.
func (d *Device) Online() bool {
	return d.online
}

// nextSeq advances the 2-bit sequence counter: 0,1,2,3,0,...
func (d *Device) nextSeq() uint8 {
	d.seq = (d.seq + 1) & 0x03
	return d.seq
}

// tick advances the device state machine and returns the wire frame to
// transmit now, if any. The bus enforces half-duplex and turnaround.
func (d *Device) tick(now time.Time, bus *Bus) []byte {
	// In-flight command: transmission, retransmission, timeout.
	if d.pending != nil {
		p := d.pending

		if !p.sendAt.IsZero() && !now.Before(p.sendAt) {
			p.sendAt = time.Time{}
			p.deadline = now.Add(d.config.ResponseTimeout)
			d.state = DeviceAwaitingReply
			return p.frame
		}

		if d.state == DeviceAwaitingReply && !now.Before(p.deadline) {
			d.retries++
			if d.retries >= d.config.MaxRetries {
				d.goOffline(now, bus)
				return nil
			}
			d.log.Debugf("addr %d: reply timeout, retry %d", d.config.Address, d.retries)
			p.deadline = now.Add(d.config.ResponseTimeout)
			return p.frame
		}

		return nil
	}

	// Offline: probe at the retry interval with a resync poll.
	if d.state == DeviceOffline {
		if now.Before(d.nextProbeAt) {
			return nil
		}
		return d.buildPlain(command.Poll, nil, nil, 0, now, bus)
	}

	if now.Before(d.holdoff) {
		return nil
	}

	// Handshake pending?
	if d.channel != nil && !d.channel.Established() {
		return d.tickHandshake(now, bus)
	}

	// Application command, then file transfer, then keep-alive poll.
	if len(d.queue) > 0 {
		q := d.queue[0]
		d.queue = d.queue[1:]
		return d.build(q.code, q.payload, q.done, now, bus)
	}
	if d.ft != nil {
		return d.buildFileFragment(now, bus)
	}
	if now.Sub(d.lastPollAt) >= d.config.PollInterval {
		return d.build(command.Poll, nil, nil, now, bus)
	}
	return nil
}

// tickHandshake emits the next handshake frame.
func (d *Device) tickHandshake(now time.Time, bus *Bus) []byte {
	if d.scryptFrame != nil {
		p := d.scryptFrame
		d.scryptFrame = nil
		d.pending = p
		p.sendAt = time.Time{}
		p.deadline = now.Add(d.config.ResponseTimeout)
		d.state = DeviceAwaitingReply
		return p.frame
	}

	switch d.channel.State() {
	case secure.StateIdle, secure.StateBroken:
		rndA, err := d.channel.StartHandshake()
		if err != nil {
			d.log.Errorf("addr %d: handshake start: %v", d.config.Address, err)
			return nil
		}
		// Sequence 0 resynchronizes the PD alongside the new session.
		chlng := command.ChallengePayload{RndA: rndA}
		return d.buildPlain(command.Challenge, chlng.Encode(), nil, 0, now, bus)
	default:
		return nil
	}
}

// build constructs and stages a command frame, wrapping it in the secure
// channel when established.
func (d *Device) build(code command.Code, payload []byte, done ReplyFunc, now time.Time, bus *Bus) []byte {
	seq := d.nextSeq()

	pkt := &packet.Packet{
		Address:  d.config.Address,
		Sequence: seq,
		UseCRC:   !d.config.UseChecksum,
		Code:     uint8(code),
		Payload:  payload,
	}

	if d.channel != nil && d.channel.Established() {
		scbType := packet.SCS15
		if len(payload) > 0 {
			scbType = packet.SCS17
			ciphertext, err := d.channel.EncryptPayload(payload)
			if err != nil {
				d.log.Errorf("addr %d: encrypt: %v", d.config.Address, err)
				d.failCommand(bus, done, err)
				return nil
			}
			pkt.Payload = ciphertext
		}
		pkt.SCB = &packet.SecurityBlock{Type: scbType}

		macData, err := pkt.MACData()
		if err != nil {
			d.failCommand(bus, done, err)
			return nil
		}
		mac, err := d.channel.Sign(macData)
		if err != nil {
			d.failCommand(bus, done, err)
			return nil
		}
		pkt.MAC = mac
	}

	frame, err := pkt.Encode()
	if err != nil {
		d.failCommand(bus, done, err)
		return nil
	}

	d.stage(code, seq, frame, payload, done, now)
	if code == command.Poll {
		d.lastPollAt = now
	}
	return frame
}

// buildPlain constructs and stages a plaintext frame with an explicit
// sequence number (resync probes and handshake steps).
func (d *Device) buildPlain(code command.Code, payload []byte, done ReplyFunc, seq uint8, now time.Time, bus *Bus) []byte {
	d.seq = seq

	pkt := &packet.Packet{
		Address:  d.config.Address,
		Sequence: seq,
		UseCRC:   !d.config.UseChecksum,
		Code:     uint8(code),
		Payload:  payload,
	}
	if code == command.Challenge {
		keyRef := byte(0x01)
		if d.channel != nil && d.channel.Insecure() {
			keyRef = 0x00
		}
		pkt.SCB = &packet.SecurityBlock{Type: packet.SCS11, Data: []byte{keyRef}}
	} else if code == command.SCrypt {
		pkt.SCB = &packet.SecurityBlock{Type: packet.SCS13, Data: []byte{0x01}}
	}

	frame, err := pkt.Encode()
	if err != nil {
		d.failCommand(bus, done, err)
		return nil
	}

	d.stage(code, seq, frame, payload, done, now)
	if code == command.Poll {
		d.lastPollAt = now
	}
	return frame
}

// stage installs the pending-command slot for a frame being sent now.
func (d *Device) stage(code command.Code, seq uint8, frame, payload []byte, done ReplyFunc, now time.Time) {
	d.pending = &pendingCommand{
		code:     code,
		seq:      seq,
		frame:    frame,
		payload:  payload,
		done:     done,
		deadline: now.Add(d.config.ResponseTimeout),
	}
	d.state = DeviceAwaitingReply
}

// failCommand reports a command that could not be sent. The callback is
// deferred past the bus lock like every other notification.
func (d *Device) failCommand(bus *Bus, done ReplyFunc, err error) {
	if done != nil {
		bus.note(func() { done(0, nil, err) })
	}
}

// goOffline transitions to Offline, surfaces exactly one unreachable
// notification per episode, and discards outstanding work.
func (d *Device) goOffline(now time.Time, bus *Bus) {
	addr := d.config.Address
	d.log.Warnf("addr %d: unreachable, marking offline", addr)

	if d.pending != nil && d.pending.done != nil {
		done := d.pending.done
		bus.note(func() { done(0, nil, ErrTimeout) })
	}
	d.pending = nil
	for _, q := range d.queue {
		if q.done != nil {
			done := q.done
			bus.note(func() { done(0, nil, ErrDeviceOffline) })
		}
	}
	d.queue = nil
	d.scryptFrame = nil
	d.failTransfer(bus, ErrDeviceOffline)

	if d.channel != nil {
		d.channel.Reset()
	}

	d.state = DeviceOffline
	d.retries = 0
	d.resynced = false
	d.nextProbeAt = now.Add(d.config.OfflineRetryInterval)

	// One notification per episode: failed re-probes stay quiet.
	if d.online {
		d.online = false
		if cb := bus.config.Callbacks.OnDeviceOffline; cb != nil {
			bus.note(func() { cb(addr) })
		}
	}
}

// markOnline records a responding device.
func (d *Device) markOnline(bus *Bus) {
	if d.online {
		return
	}
	d.online = true
	addr := d.config.Address
	d.log.Infof("addr %d: online", addr)
	if cb := bus.config.Callbacks.OnDeviceOnline; cb != nil {
		bus.note(func() { cb(addr) })
	}
}
