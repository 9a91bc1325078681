package cp

import (
	"time"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/packet"
	"github.com/osdp-go/osdp/pkg/secure"
)

// feed consumes received bytes for this device and processes any complete
// reply frames. Malformed frames are discarded; the retry machinery
// recovers from the resulting silence.
func (d *Device) feed(chunk []byte, bus *Bus, now time.Time) {
	d.scanner.Write(chunk)
	for {
		pkt, err := d.scanner.Next()
		if err != nil {
			d.log.Debugf("addr %d: dropping malformed frame: %v", d.config.Address, err)
			continue
		}
		if pkt == nil {
			return
		}
		d.onPacket(pkt, bus, now)
	}
}

// onPacket runs one reply through the state machine.
func (d *Device) onPacket(pkt *packet.Packet, bus *Bus, now time.Time) {
	if !pkt.Reply || pkt.Address != d.config.Address {
		return
	}
	if d.pending == nil || d.state != DeviceAwaitingReply {
		d.log.Debugf("addr %d: unsolicited reply 0x%02X", d.config.Address, pkt.Code)
		return
	}
	p := d.pending
	reply := command.ReplyCode(pkt.Code)

	// Sequence agreement. A mismatch is a desync: force one seq-0
	// resynchronization cycle, then give up on the device.
	if pkt.Sequence != p.seq {
		d.onDesync(bus, now)
		return
	}

	// Busy asks us to hold the command and retry shortly. It does not
	// count against the retry budget; the resend is a fresh exchange.
	if reply == command.Busy {
		d.log.Debugf("addr %d: busy, deferring", d.config.Address)
		d.pending = nil
		d.state = DevicePolling
		d.holdoff = now.Add(d.config.PollInterval)
		d.requeueFront(p)
		return
	}

	// Unwrap the secure envelope.
	payload := pkt.Payload
	if pkt.SCB != nil && pkt.SCB.HasMAC() {
		if d.channel == nil {
			d.protocolViolation(bus, now, command.ErrUnexpectedReply)
			return
		}
		macData, err := pkt.MACData()
		if err != nil {
			d.protocolViolation(bus, now, err)
			return
		}
		plain, err := d.channel.Verify(macData, pkt.MAC, pkt.Payload)
		if err != nil {
			d.onChannelBroken(bus, err)
			return
		}
		if pkt.SCB.Type == packet.SCS18 {
			payload = plain
		}
	}

	// Handshake replies drive the secure channel forward.
	switch p.code {
	case command.Challenge:
		d.onCCrypt(reply, payload, bus, now)
		return
	case command.SCrypt:
		d.onRMACI(reply, payload, bus, now)
		return
	}

	// Registry check: is this reply legal for the command we sent?
	if err := command.ValidateReply(p.code, reply); err != nil {
		d.log.Warnf("addr %d: reply %v illegal for %v", d.config.Address, reply, p.code)
		d.protocolViolation(bus, now, err)
		return
	}

	// A NAK for a sequence error means the PD lost sync with us even
	// though the reply itself carried the right number. A security NAK
	// under an established channel means the PD dropped its session,
	// so only a re-handshake restores the link.
	if reply == command.Nak {
		var nak command.NakPayload
		if err := nak.Decode(payload); err == nil {
			switch {
			case nak.Reason == command.NakSeqNum:
				d.onDesync(bus, now)
				return
			case (nak.Reason == command.NakSecConditions ||
				nak.Reason == command.NakSecUnsupported) &&
				d.channel != nil && d.channel.Established():
				d.onSecureRejected(bus, now)
				return
			}
		}
	}

	d.completeExchange(reply, payload, bus, now)
}

// completeExchange finishes a successful request/reply cycle.
func (d *Device) completeExchange(reply command.ReplyCode, payload []byte, bus *Bus, now time.Time) {
	p := d.pending
	d.pending = nil
	d.retries = 0
	d.resynced = false
	d.state = DevicePolling
	d.markOnline(bus)

	// Resuming contact with a keyed device means the handshake runs
	// before application traffic.
	if d.channel != nil && !d.channel.Established() {
		d.state = DeviceSecureHandshake
	}

	d.dispatchReply(p, reply, payload, bus, now)
}

// dispatchReply surfaces a decoded reply: event callbacks for poll
// replies, the completion callback for submitted commands.
func (d *Device) dispatchReply(p *pendingCommand, reply command.ReplyCode, payload []byte, bus *Bus, now time.Time) {
	addr := d.config.Address
	cbs := bus.config.Callbacks

	// A NAKed fragment ends the transfer; fragments carry no done
	// callback of their own.
	if reply == command.Nak && p.code == command.FileTransfer {
		d.failTransfer(bus, ErrTransferRejected)
	}

	switch reply {
	case command.CardRaw:
		var card command.CardRawPayload
		if err := card.Decode(payload); err != nil {
			d.log.Warnf("addr %d: bad RAW payload: %v", addr, err)
			break
		}
		if cbs.OnCardEvent != nil {
			bus.note(func() { cbs.OnCardEvent(addr, card) })
		}
	case command.Keypad:
		var keys command.KeypadPayload
		if err := keys.Decode(payload); err != nil {
			d.log.Warnf("addr %d: bad KEYPAD payload: %v", addr, err)
			break
		}
		if cbs.OnKeypadEvent != nil {
			bus.note(func() { cbs.OnKeypadEvent(addr, keys) })
		}
	case command.LocalStatusReport, command.InputStatusReport,
		command.OutputStatusReport, command.ReaderStatusReport:
		if cbs.OnStatusReport != nil {
			rc, pl := reply, payload
			bus.note(func() { cbs.OnStatusReport(addr, rc, pl) })
		}
	case command.FTStat:
		d.onFTStat(payload, bus, now)
	}

	if p.done != nil {
		done, rc, pl := p.done, reply, payload
		bus.note(func() { done(rc, pl, nil) })
	}
}

// onCCrypt handles the osdp_CCRYPT handshake reply.
func (d *Device) onCCrypt(reply command.ReplyCode, payload []byte, bus *Bus, now time.Time) {
	if reply != command.CCrypt {
		d.onHandshakeFailed(bus, now, command.ErrUnexpectedReply)
		return
	}
	var ccrypt command.CCryptPayload
	if err := ccrypt.Decode(payload); err != nil {
		d.onHandshakeFailed(bus, now, err)
		return
	}

	cryptogram, err := d.channel.HandleCCrypt(ccrypt.RndB, ccrypt.Cryptogram)
	if err != nil {
		d.onHandshakeFailed(bus, now, err)
		return
	}

	// Stage osdp_SCRYPT; the bus transmits it on the next tick.
	d.pending = nil
	d.state = DeviceSecureHandshake
	seq := d.nextSeq()
	pkt := &packet.Packet{
		Address:  d.config.Address,
		Sequence: seq,
		UseCRC:   !d.config.UseChecksum,
		SCB:      &packet.SecurityBlock{Type: packet.SCS13, Data: []byte{0x01}},
		Code:     uint8(command.SCrypt),
		Payload:  (&command.SCryptPayload{Cryptogram: cryptogram}).Encode(),
	}
	frame, err := pkt.Encode()
	if err != nil {
		d.onHandshakeFailed(bus, now, err)
		return
	}
	d.scryptFrame = &pendingCommand{
		code:   command.SCrypt,
		seq:    seq,
		frame:  frame,
		sendAt: now,
	}
}

// onRMACI handles the osdp_RMAC_I handshake reply.
func (d *Device) onRMACI(reply command.ReplyCode, payload []byte, bus *Bus, now time.Time) {
	if reply != command.RMACI {
		d.onHandshakeFailed(bus, now, command.ErrUnexpectedReply)
		return
	}
	var rmac command.RMACIPayload
	if err := rmac.Decode(payload); err != nil {
		d.onHandshakeFailed(bus, now, err)
		return
	}

	if err := d.channel.HandleRMACI(rmac.RMAC); err != nil {
		d.onHandshakeFailed(bus, now, err)
		return
	}

	d.pending = nil
	d.retries = 0
	d.state = DevicePolling
	d.markOnline(bus)
	d.notifySecureState(bus)
}

// onHandshakeFailed tears the channel down and schedules a fresh attempt.
// Repeated failures consume the retry budget and take the device offline.
func (d *Device) onHandshakeFailed(bus *Bus, now time.Time, err error) {
	d.log.Warnf("addr %d: handshake failed: %v", d.config.Address, err)
	d.pending = nil
	d.scryptFrame = nil
	d.channel.Reset()
	d.notifySecureState(bus)

	d.retries++
	if d.retries >= d.config.MaxRetries {
		d.goOffline(now, bus)
		return
	}
	d.state = DeviceSecureHandshake
}

// onChannelBroken reacts to a MAC failure on an established channel: the
// channel event is consumed here and forces a re-handshake.
func (d *Device) onChannelBroken(bus *Bus, err error) {
	d.log.Warnf("addr %d: %v", d.config.Address, err)

	if ev := d.channel.ConsumeEvent(); ev == secure.EventBroken {
		d.notifySecureState(bus)
	}

	// The in-flight command is lost with the session.
	if d.pending != nil && d.pending.done != nil {
		done := d.pending.done
		bus.note(func() { done(0, nil, err) })
	}
	d.pending = nil
	d.state = DeviceSecureHandshake
}

// onSecureRejected handles a security-condition NAK while our side of
// the channel still thinks the session is live: the PD has torn its
// session down, so ours is discarded and the handshake restarts. The
// command is requeued to run under the new session.
func (d *Device) onSecureRejected(bus *Bus, now time.Time) {
	d.log.Warnf("addr %d: PD rejected secure frame, restarting handshake", d.config.Address)

	d.channel.Reset()
	d.notifySecureState(bus)

	p := d.pending
	d.pending = nil
	d.retries = 0
	d.state = DeviceSecureHandshake
	if p != nil && p.code != command.Poll {
		d.requeueFront(&pendingCommand{code: p.code, payload: p.payload, done: p.done})
	}
}

// onDesync forces one sequence resynchronization cycle: the pending
// command is re-sent with sequence 0. A second desync for the same
// command declares the device offline.
func (d *Device) onDesync(bus *Bus, now time.Time) {
	if d.resynced {
		d.log.Warnf("addr %d: resync failed", d.config.Address)
		d.goOffline(now, bus)
		return
	}
	d.resynced = true
	d.log.Debugf("addr %d: sequence desync, resyncing", d.config.Address)

	// Under an established secure channel the MAC chain is part of the
	// lost state; resync means a full re-handshake.
	if d.channel != nil && d.channel.Established() {
		d.channel.Reset()
		d.notifySecureState(bus)
		p := d.pending
		d.pending = nil
		d.state = DeviceSecureHandshake
		d.seq = 0
		if p != nil && p.code != command.Poll {
			d.requeueFront(&pendingCommand{code: p.code, payload: p.payload, done: p.done})
		}
		return
	}

	p := d.pending
	d.pending = nil
	if d.buildPlain(p.code, p.payload, p.done, 0, now, bus) != nil {
		// Transmission happens on the next bus tick.
		d.pending.sendAt = now
	}
}

// protocolViolation handles an illegal reply type: the exchange fails,
// and repeated violations exhaust the retry budget.
func (d *Device) protocolViolation(bus *Bus, now time.Time, err error) {
	p := d.pending
	d.pending = nil
	if p != nil && p.done != nil {
		done := p.done
		bus.note(func() { done(0, nil, err) })
	}

	d.retries++
	if d.retries >= d.config.MaxRetries {
		d.goOffline(now, bus)
		return
	}
	d.state = DevicePolling
}

// requeueFront puts a command back at the head of the queue.
func (d *Device) requeueFront(p *pendingCommand) {
	d.queue = append([]queuedCommand{{
		code:    p.code,
		payload: p.payload,
		done:    p.done,
	}}, d.queue...)
}

// notifySecureState surfaces the secure channel state to the application.
func (d *Device) notifySecureState(bus *Bus) {
	if cb := bus.config.Callbacks.OnSecureChannel; cb != nil {
		addr, st := d.config.Address, d.channel.State()
		bus.note(func() { cb(addr, st) })
	}
}
