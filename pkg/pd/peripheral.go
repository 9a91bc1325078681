// Package pd implements the peripheral device side of OSDP: a reactive
// state machine that validates incoming commands, answers polls with
// queued events, and plays the responder half of the secure channel
// handshake. A PD never transmits except in reply to the CP.
package pd

import (
	"sync"

	"github.com/pion/logging"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/crypto"
	"github.com/osdp-go/osdp/pkg/packet"
	"github.com/osdp-go/osdp/pkg/secure"
)

// State is the PD processing state, for observability only; transitions
// happen synchronously inside Feed.
type State int

const (
	// StateIdle means no command is being processed.
	StateIdle State = iota

	// StateProcessingCommand means a command is being handled.
	StateProcessingCommand

	// StateRepliedWaiting means a reply went out and the PD awaits the
	// next command.
	StateRepliedWaiting
)

// Handlers holds the application callbacks for commands the protocol
// engine cannot answer by itself. A nil handler NAKs the command.
type Handlers struct {
	// OnOutput applies output point changes.
	OnOutput func(command.OutputSetPayload) error

	// OnLED applies an LED command.
	OnLED func(command.LEDPayload) error

	// OnBuzzer applies a buzzer command.
	OnBuzzer func(command.BuzzerPayload) error

	// OnText applies a display text command.
	OnText func(command.TextPayload) error

	// OnMfg handles a vendor-specific command. A non-nil reply is sent
	// as osdp_MFGREP, otherwise osdp_ACK.
	OnMfg func(command.MfgPayload) (*command.MfgReplyPayload, error)

	// OnComSet persists a new address/baud configuration. The reply is
	// sent before the caller reconfigures the link.
	OnComSet func(command.ComSetPayload) error

	// OnKeySet persists a freshly installed SCBK.
	OnKeySet func(key []byte) error
}

// FileSink receives a CP-to-PD file transfer. Open is called on the
// first fragment, Write once per fragment in ascending offset order,
// Close when the last byte lands or the transfer is aborted.
type FileSink interface {
	Open(fileType uint8, size int) error
	Write(data []byte, offset int) error
	Close() error
}

// Config configures a Peripheral.
type Config struct {
	// Address is the PD bus address (0x00-0x7E).
	Address uint8

	// ID is reported in reply to osdp_ID.
	ID command.PdIDPayload

	// Capabilities are reported in reply to osdp_CAP. Communication
	// security and check-character entries are appended automatically.
	Capabilities []command.Capability

	// SCBK enables the secure channel when set (16 bytes).
	SCBK []byte

	// EnforceSecure rejects non-handshake plaintext commands once a
	// key is configured.
	EnforceSecure bool

	// InputPoints and OutputPoints size the osdp_ISTAT and osdp_OSTAT
	// reports. Zero points yields an empty report.
	InputPoints  int
	OutputPoints int

	// EventQueueSize bounds queued card/keypad events.
	// Defaults to DefaultEventQueueSize.
	EventQueueSize int

	// Handlers are the application callbacks.
	Handlers Handlers

	// Files accepts osdp_FILETRANSFER; nil PDs NAK the command.
	Files FileSink

	// LoggerFactory creates the PD logger.
	LoggerFactory logging.LoggerFactory
}

// event is one queued PD event, sent in reply to a poll.
type event struct {
	code    command.ReplyCode
	payload []byte
}

// Peripheral is a single OSDP peripheral device.
// All entry points are non-blocking; the caller owns the transport loop.
type Peripheral struct {
	mu sync.Mutex

	config  Config
	scanner *packet.Scanner
	channel *secure.Channel

	// pendingChannel holds the re-keyed channel staged by osdp_KEYSET
	// until the ACK under the old session has been encoded.
	pendingChannel *secure.Channel

	state State

	// seq is the last accepted sequence number; 0 also marks "expect
	// resync". seqValid distinguishes a fresh link from seq 0.
	seq      uint8
	seqValid bool

	// lastReply retransmits verbatim when the CP repeats a sequence
	// number (its reply was lost).
	lastReply []byte

	events     []event
	tamper     bool
	powerFault bool

	// inputs and outputs hold one state byte per configured point.
	inputs  []uint8
	outputs []uint8

	// ftActive marks a file transfer in progress; ftSize and ftOffset
	// track the declared total and the next expected fragment offset.
	ftActive bool
	ftSize   int
	ftOffset int

	closed bool
	log    logging.LeveledLogger
}

// NewPeripheral creates a PD.
func NewPeripheral(config Config) (*Peripheral, error) {
	if config.Address > 0x7E {
		return nil, packet.ErrInvalidAddress
	}

	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	if config.EventQueueSize == 0 {
		config.EventQueueSize = DefaultEventQueueSize
	}

	p := &Peripheral{
		config:  config,
		scanner: packet.NewScanner(),
		state:   StateIdle,
		inputs:  make([]uint8, config.InputPoints),
		outputs: make([]uint8, config.OutputPoints),
		log:     factory.NewLogger("osdp-pd"),
	}

	if config.SCBK != nil {
		ch, err := secure.NewChannel(secure.Config{
			Role:          secure.RolePD,
			SCBK:          config.SCBK,
			LoggerFactory: factory,
		})
		if err != nil {
			return nil, err
		}
		p.channel = ch
	}

	return p, nil
}

// State returns the current processing state.
func (p *Peripheral) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SecureState returns the secure channel state, or StateIdle when no key
// is configured.
func (p *Peripheral) SecureState() secure.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return secure.StateIdle
	}
	return p.channel.State()
}

// QueueCardEvent queues raw card data for the next poll.
func (p *Peripheral) QueueCardEvent(card command.CardRawPayload) error {
	return p.queueEvent(command.CardRaw, card.Encode())
}

// QueueKeypadEvent queues keypad digits for the next poll.
func (p *Peripheral) QueueKeypadEvent(keys command.KeypadPayload) error {
	return p.queueEvent(command.Keypad, keys.Encode())
}

func (p *Peripheral) queueEvent(code command.ReplyCode, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if len(p.events) >= p.config.EventQueueSize {
		return ErrEventQueueFull
	}
	p.events = append(p.events, event{code: code, payload: payload})
	return nil
}

// SetTamper sets the tamper flag reported by osdp_LSTAT.
func (p *Peripheral) SetTamper(tamper bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tamper = tamper
}

// SetInput records an input point state reported by osdp_ISTAT.
func (p *Peripheral) SetInput(point int, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if point < 0 || point >= len(p.inputs) {
		return ErrNoSuchPoint
	}
	p.inputs[point] = stateByte(active)
	return nil
}

// SetOutput records an output point state reported by osdp_OSTAT.
func (p *Peripheral) SetOutput(point int, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if point < 0 || point >= len(p.outputs) {
		return ErrNoSuchPoint
	}
	p.outputs[point] = stateByte(active)
	return nil
}

func stateByte(active bool) uint8 {
	if active {
		return 1
	}
	return 0
}

// Close discards all state and zeroizes the secure channel.
func (p *Peripheral) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.channel != nil {
		p.channel.Reset()
	}
	p.events = nil
	p.scanner.Reset()
}

// Feed consumes a chunk of received bytes and returns any reply frames
// ready to transmit. Chunks may split frames arbitrarily. Malformed
// frames are discarded; the CP's retry machinery recovers.
func (p *Peripheral) Feed(chunk []byte) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	p.scanner.Write(chunk)

	var out [][]byte
	for {
		pkt, err := p.scanner.Next()
		if err != nil {
			p.log.Debugf("dropping malformed frame: %v", err)
			continue
		}
		if pkt == nil {
			return out
		}
		if reply := p.handlePacket(pkt); reply != nil {
			out = append(out, reply)
		}
	}
}

// handlePacket runs one command through the PD state machine and returns
// the encoded reply frame, or nil for a silent drop.
func (p *Peripheral) handlePacket(pkt *packet.Packet) []byte {
	if pkt.Reply {
		return nil // another PD's reply overheard on the bus
	}
	broadcast := pkt.Address == packet.BroadcastAddress
	if pkt.Address != p.config.Address && !broadcast {
		return nil
	}

	p.state = StateProcessingCommand

	// Sequence validation. Seq 0 is the CP-driven resync; a repeat of
	// the previous number means our reply was lost, so retransmit it.
	// Anything else is a desync: drop silently and let the CP resync.
	switch {
	case pkt.Sequence == 0:
		p.seq = 0
		p.seqValid = true
		p.lastReply = nil
	case p.seqValid && pkt.Sequence == p.seq:
		p.state = StateRepliedWaiting
		return p.lastReply
	case p.seqValid && pkt.Sequence == nextSeq(p.seq):
		p.seq = pkt.Sequence
	default:
		p.log.Debugf("sequence desync: got %d, have %d", pkt.Sequence, p.seq)
		p.state = StateIdle
		return nil
	}

	code, payload, nak := p.unwrap(pkt)
	var reply *packet.Packet
	if nak != nil {
		reply = p.buildPlainReply(pkt, command.Nak, nak.Encode())
	} else {
		reply = p.dispatch(pkt, code, payload)
	}
	if reply == nil || broadcast {
		// Broadcast commands are executed but never answered; there is
		// no collision-free way to reply.
		p.state = StateIdle
		return nil
	}

	encoded, err := p.finalize(reply)
	if err != nil {
		p.log.Errorf("encoding reply: %v", err)
		p.state = StateIdle
		return nil
	}

	p.lastReply = encoded
	p.state = StateRepliedWaiting
	return encoded
}

// unwrap validates the security block and decrypts the payload when the
// frame is SCS_15/17. It returns the command code, plaintext payload and
// a NAK to send instead when validation fails.
func (p *Peripheral) unwrap(pkt *packet.Packet) (command.Code, []byte, *command.NakPayload) {
	code := command.Code(pkt.Code)

	if pkt.SCB == nil {
		if p.config.EnforceSecure && p.channel != nil && p.channel.Established() {
			return code, nil, &command.NakPayload{Reason: command.NakSecConditions}
		}
		return code, pkt.Payload, nil
	}

	if p.channel == nil {
		return code, nil, &command.NakPayload{Reason: command.NakSecUnsupported}
	}

	switch pkt.SCB.Type {
	case packet.SCS11, packet.SCS13:
		// Handshake frames are MAC-less; dispatch handles them.
		return code, pkt.Payload, nil
	case packet.SCS15, packet.SCS17:
		macData, err := pkt.MACData()
		if err != nil {
			return code, nil, &command.NakPayload{Reason: command.NakRecordUnable}
		}
		plain, err := p.channel.Verify(macData, pkt.MAC, pkt.Payload)
		if err != nil {
			p.log.Warnf("secure frame rejected: %v", err)
			return code, nil, &command.NakPayload{Reason: command.NakSecConditions}
		}
		return code, plain, nil
	default:
		return code, nil, &command.NakPayload{Reason: command.NakSecUnsupported}
	}
}

// dispatch builds the reply for a validated command.
func (p *Peripheral) dispatch(pkt *packet.Packet, code command.Code, payload []byte) *packet.Packet {
	nak := func(reason command.NakReason) *packet.Packet {
		n := &command.NakPayload{Reason: reason}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	switch code {
	case command.Poll:
		if len(p.events) > 0 {
			ev := p.events[0]
			p.events = p.events[1:]
			return p.buildReply(pkt, ev.code, ev.payload)
		}
		return p.buildReply(pkt, command.Ack, nil)

	case command.IDReport:
		return p.buildReply(pkt, command.PdIDReport, p.config.ID.Encode())

	case command.CapReport:
		caps := command.PdCapPayload{Capabilities: p.capabilities()}
		return p.buildReply(pkt, command.PdCapReport, caps.Encode())

	case command.LocalStatus:
		st := command.LocalStatusPayload{}
		if p.tamper {
			st.Tamper = 1
		}
		if p.powerFault {
			st.Power = 1
		}
		return p.buildReply(pkt, command.LocalStatusReport, st.Encode())

	case command.InputStatus:
		st := command.StatusPayload{States: append([]uint8(nil), p.inputs...)}
		return p.buildReply(pkt, command.InputStatusReport, st.Encode())

	case command.OutputStatus:
		st := command.StatusPayload{States: append([]uint8(nil), p.outputs...)}
		return p.buildReply(pkt, command.OutputStatusReport, st.Encode())

	case command.ReaderStatus:
		// Single integrated reader, state 0 = normal.
		st := command.StatusPayload{States: []uint8{0}}
		return p.buildReply(pkt, command.ReaderStatusReport, st.Encode())

	case command.OutputSet:
		var out command.OutputSetPayload
		if err := out.Decode(payload); err != nil {
			return nak(command.NakCmdLength)
		}
		if p.config.Handlers.OnOutput == nil {
			return nak(command.NakCmdUnknown)
		}
		if err := p.config.Handlers.OnOutput(out); err != nil {
			return nak(command.NakRecordUnable)
		}
		return p.buildReply(pkt, command.Ack, nil)

	case command.LEDControl:
		var led command.LEDPayload
		if err := led.Decode(payload); err != nil {
			return nak(command.NakCmdLength)
		}
		if p.config.Handlers.OnLED == nil {
			return nak(command.NakCmdUnknown)
		}
		if err := p.config.Handlers.OnLED(led); err != nil {
			return nak(command.NakRecordUnable)
		}
		return p.buildReply(pkt, command.Ack, nil)

	case command.BuzzerControl:
		var buz command.BuzzerPayload
		if err := buz.Decode(payload); err != nil {
			return nak(command.NakCmdLength)
		}
		if p.config.Handlers.OnBuzzer == nil {
			return nak(command.NakCmdUnknown)
		}
		if err := p.config.Handlers.OnBuzzer(buz); err != nil {
			return nak(command.NakRecordUnable)
		}
		return p.buildReply(pkt, command.Ack, nil)

	case command.TextOutput:
		var text command.TextPayload
		if err := text.Decode(payload); err != nil {
			return nak(command.NakCmdLength)
		}
		if p.config.Handlers.OnText == nil {
			return nak(command.NakCmdUnknown)
		}
		if err := p.config.Handlers.OnText(text); err != nil {
			return nak(command.NakRecordUnable)
		}
		return p.buildReply(pkt, command.Ack, nil)

	case command.ComSet:
		var com command.ComSetPayload
		if err := com.Decode(payload); err != nil {
			return nak(command.NakCmdLength)
		}
		if p.config.Handlers.OnComSet != nil {
			if err := p.config.Handlers.OnComSet(com); err != nil {
				return nak(command.NakRecordUnable)
			}
		}
		confirm := command.ComPayload{Address: com.Address, BaudRate: com.BaudRate}
		return p.buildReply(pkt, command.ComReport, confirm.Encode())

	case command.Manufacturer:
		var mfg command.MfgPayload
		if err := mfg.Decode(payload); err != nil {
			return nak(command.NakCmdLength)
		}
		if p.config.Handlers.OnMfg == nil {
			return nak(command.NakCmdUnknown)
		}
		rep, err := p.config.Handlers.OnMfg(mfg)
		if err != nil {
			return nak(command.NakRecordUnable)
		}
		if rep != nil {
			return p.buildReply(pkt, command.ManufacturerReply, rep.Encode())
		}
		return p.buildReply(pkt, command.Ack, nil)

	case command.KeySet:
		return p.handleKeySet(pkt, payload)

	case command.Challenge:
		return p.handleChallenge(pkt, payload)

	case command.SCrypt:
		return p.handleSCrypt(pkt, payload)

	case command.FileTransfer:
		return p.handleFileTransfer(pkt, payload)

	case command.Abort:
		p.abortFileTransfer()
		return p.buildReply(pkt, command.Ack, nil)

	case command.ACURxSize, command.KeepActive:
		return p.buildReply(pkt, command.Ack, nil)

	default:
		return nak(command.NakCmdUnknown)
	}
}

// handleChallenge answers osdp_CHLNG with osdp_CCRYPT (SCS_11 -> SCS_12).
func (p *Peripheral) handleChallenge(pkt *packet.Packet, payload []byte) *packet.Packet {
	if p.channel == nil {
		n := &command.NakPayload{Reason: command.NakSecUnsupported}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	var chlng command.ChallengePayload
	if err := chlng.Decode(payload); err != nil {
		n := &command.NakPayload{Reason: command.NakCmdLength}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	rndB, pdCryptogram, err := p.channel.HandleChallenge(chlng.RndA)
	if err != nil {
		p.log.Warnf("CHLNG rejected: %v", err)
		n := &command.NakPayload{Reason: command.NakRecordUnable}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	ccrypt := command.CCryptPayload{
		ClientUID:  p.clientUID(),
		RndB:       rndB,
		Cryptogram: pdCryptogram,
	}
	reply := p.buildPlainReply(pkt, command.CCrypt, ccrypt.Encode())
	reply.SCB = &packet.SecurityBlock{Type: packet.SCS12, Data: []byte{0x01}}
	return reply
}

// handleSCrypt answers osdp_SCRYPT with osdp_RMAC_I (SCS_13 -> SCS_14).
func (p *Peripheral) handleSCrypt(pkt *packet.Packet, payload []byte) *packet.Packet {
	if p.channel == nil {
		n := &command.NakPayload{Reason: command.NakSecUnsupported}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	var scrypt command.SCryptPayload
	if err := scrypt.Decode(payload); err != nil {
		n := &command.NakPayload{Reason: command.NakCmdLength}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	rmacI, err := p.channel.HandleSCrypt(scrypt.Cryptogram)
	if err != nil {
		p.log.Warnf("SCRYPT rejected: %v", err)
		n := &command.NakPayload{Reason: command.NakRecordUnable}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	rmac := command.RMACIPayload{RMAC: rmacI}
	reply := p.buildPlainReply(pkt, command.RMACI, rmac.Encode())
	reply.SCB = &packet.SecurityBlock{Type: packet.SCS14, Data: []byte{0x01}}
	return reply
}

// handleKeySet installs a new SCBK. Only legal inside the secure channel.
// handleFileTransfer runs one osdp_FILETRANSFER fragment through the
// configured FileSink and answers with osdp_FTSTAT.
func (p *Peripheral) handleFileTransfer(pkt *packet.Packet, payload []byte) *packet.Packet {
	if p.config.Files == nil {
		n := &command.NakPayload{Reason: command.NakCmdUnknown}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	var ft command.FileTransferPayload
	if err := ft.Decode(payload); err != nil {
		n := &command.NakPayload{Reason: command.NakCmdLength}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	stat := command.FTStatPayload{UpdateMsgMax: FileFragmentMax}
	ftStat := func(status command.FTStatus) *packet.Packet {
		stat.Status = status
		return p.buildReply(pkt, command.FTStat, stat.Encode())
	}

	if !p.ftActive {
		if ft.Offset != 0 {
			return ftStat(command.FTStatusMalformed)
		}
		if err := p.config.Files.Open(ft.Type, int(ft.Total)); err != nil {
			p.log.Warnf("file transfer rejected: %v", err)
			return ftStat(command.FTStatusUnrecognized)
		}
		p.ftActive = true
		p.ftSize = int(ft.Total)
		p.ftOffset = 0
	}

	// Fragments arrive in order; a retransmitted frame never lands here
	// because the reply cache answers repeated sequence numbers.
	if int(ft.Offset) != p.ftOffset || int(ft.Total) != p.ftSize ||
		p.ftOffset+len(ft.Data) > p.ftSize {
		p.abortFileTransfer()
		return ftStat(command.FTStatusMalformed)
	}

	if err := p.config.Files.Write(ft.Data, int(ft.Offset)); err != nil {
		p.log.Warnf("file write failed: %v", err)
		p.abortFileTransfer()
		return ftStat(command.FTStatusAbort)
	}
	p.ftOffset += len(ft.Data)

	if p.ftOffset == p.ftSize {
		p.ftActive = false
		if err := p.config.Files.Close(); err != nil {
			p.log.Warnf("file close failed: %v", err)
			return ftStat(command.FTStatusAbort)
		}
		return ftStat(command.FTStatusFinishing)
	}
	return ftStat(command.FTStatusOK)
}

// abortFileTransfer discards transfer state, closing the sink if open.
func (p *Peripheral) abortFileTransfer() {
	if !p.ftActive {
		return
	}
	p.ftActive = false
	p.ftSize = 0
	p.ftOffset = 0
	if err := p.config.Files.Close(); err != nil {
		p.log.Warnf("file close failed: %v", err)
	}
}

func (p *Peripheral) handleKeySet(pkt *packet.Packet, payload []byte) *packet.Packet {
	nak := func(reason command.NakReason) *packet.Packet {
		n := &command.NakPayload{Reason: reason}
		return p.buildPlainReply(pkt, command.Nak, n.Encode())
	}

	if p.channel == nil || !p.channel.Established() || pkt.SCB == nil {
		return nak(command.NakSecConditions)
	}

	var keyset command.KeySetPayload
	if err := keyset.Decode(payload); err != nil {
		return nak(command.NakCmdLength)
	}

	if p.config.Handlers.OnKeySet != nil {
		if err := p.config.Handlers.OnKeySet(keyset.Key); err != nil {
			return nak(command.NakRecordUnable)
		}
	}

	// The reply still travels under the old session; the new key takes
	// effect at the next handshake.
	reply := p.buildReply(pkt, command.Ack, nil)

	newChannel, err := secure.NewChannel(secure.Config{
		Role:          secure.RolePD,
		SCBK:          keyset.Key,
		LoggerFactory: p.config.LoggerFactory,
	})
	if err != nil {
		return nak(command.NakRecordUnable)
	}
	p.pendingChannel = newChannel
	p.config.SCBK = append([]byte(nil), keyset.Key...)
	crypto.Zeroize(keyset.Key)
	return reply
}

// capabilities returns the configured capability list plus the entries
// the engine owns itself.
func (p *Peripheral) capabilities() []command.Capability {
	caps := append([]command.Capability(nil), p.config.Capabilities...)
	caps = append(caps, command.Capability{
		Function:   command.CapCheckCharacter,
		Compliance: 1, // CRC-16 supported
		NumberOf:   0,
	})
	secComp := uint8(0)
	if p.channel != nil {
		secComp = 1 // AES-128 secure channel
	}
	caps = append(caps, command.Capability{
		Function:   command.CapCommunicationSecurity,
		Compliance: secComp,
		NumberOf:   0,
	})
	return caps
}

// clientUID builds the 8-byte UID sent in osdp_CCRYPT from the PD identity.
func (p *Peripheral) clientUID() []byte {
	id := p.config.ID
	uid := make([]byte, 8)
	copy(uid[:3], id.VendorCode[:])
	uid[3] = id.ModelNumber
	uid[4] = id.Version
	uid[5] = byte(id.SerialNumber)
	uid[6] = byte(id.SerialNumber >> 8)
	uid[7] = byte(id.SerialNumber >> 16)
	return uid
}

// buildPlainReply builds a reply packet that must never be encrypted
// (NAKs and handshake replies).
func (p *Peripheral) buildPlainReply(pkt *packet.Packet, code command.ReplyCode, payload []byte) *packet.Packet {
	return &packet.Packet{
		Address:  p.config.Address,
		Reply:    true,
		Sequence: pkt.Sequence,
		UseCRC:   pkt.UseCRC,
		Code:     uint8(code),
		Payload:  payload,
	}
}

// buildReply builds a reply packet, marking it for secure wrapping when
// the command arrived on the secure channel.
func (p *Peripheral) buildReply(pkt *packet.Packet, code command.ReplyCode, payload []byte) *packet.Packet {
	reply := p.buildPlainReply(pkt, code, payload)
	if pkt.SCB != nil && pkt.SCB.HasMAC() && p.channel != nil && p.channel.Established() {
		scbType := packet.SCS16
		if len(payload) > 0 {
			scbType = packet.SCS18
		}
		reply.SCB = &packet.SecurityBlock{Type: scbType}
	}
	return reply
}

// finalize encrypts and signs secure replies, then encodes to wire bytes.
func (p *Peripheral) finalize(reply *packet.Packet) ([]byte, error) {
	if reply.SCB != nil && reply.SCB.HasMAC() {
		if reply.SCB.Type == packet.SCS18 {
			ciphertext, err := p.channel.EncryptPayload(reply.Payload)
			if err != nil {
				return nil, err
			}
			reply.Payload = ciphertext
		}
		macData, err := reply.MACData()
		if err != nil {
			return nil, err
		}
		mac, err := p.channel.Sign(macData)
		if err != nil {
			return nil, err
		}
		reply.MAC = mac
	}

	encoded, err := reply.Encode()
	if err != nil {
		return nil, err
	}

	// A completed KeySet swaps in the channel keyed with the new SCBK.
	if p.pendingChannel != nil {
		p.channel.Reset()
		p.channel = p.pendingChannel
		p.pendingChannel = nil
	}

	return encoded, nil
}

// nextSeq returns the sequence number following s in the 0,1,2,3 cycle.
// Seq 0 additionally resynchronizes: the PD accepts it in any state.
func nextSeq(s uint8) uint8 {
	return (s + 1) & 0x03
}
