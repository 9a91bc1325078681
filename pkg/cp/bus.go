package cp

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/keystore"
	"github.com/osdp-go/osdp/pkg/secure"
)

// Callbacks deliver asynchronous bus events. All callbacks run on the
// goroutine driving Tick or Receive, after the bus lock is released, so
// they may call back into the Bus.
type Callbacks struct {
	// OnDeviceOnline fires when a device answers after being silent.
	OnDeviceOnline func(address uint8)

	// OnDeviceOffline fires once per offline episode, after the retry
	// budget is exhausted.
	OnDeviceOffline func(address uint8)

	// OnCardEvent delivers an osdp_RAW card read.
	OnCardEvent func(address uint8, card command.CardRawPayload)

	// OnKeypadEvent delivers osdp_KEYPAD digits.
	OnKeypadEvent func(address uint8, keys command.KeypadPayload)

	// OnStatusReport delivers unsolicited status replies to a poll.
	OnStatusReport func(address uint8, reply command.ReplyCode, payload []byte)

	// OnSecureChannel fires on secure channel state transitions.
	OnSecureChannel func(address uint8, state secure.State)
}

// BusConfig configures a Bus.
type BusConfig struct {
	// Keys supplies the SCBK for devices that do not carry one in their
	// DeviceConfig. Optional; without it such devices run plaintext.
	Keys keystore.Provider

	// Callbacks receive bus events.
	Callbacks Callbacks

	// TurnaroundGap is the minimum idle time between a received reply
	// and the next transmission. Defaults to DefaultTurnaroundGap.
	TurnaroundGap time.Duration

	// LoggerFactory defaults to logging.NewDefaultLoggerFactory().
	LoggerFactory logging.LoggerFactory
}

// Outbound is a frame the caller must write to the shared line.
type Outbound struct {
	Address uint8
	Frame   []byte
}

// Bus multiplexes up to 126 peripheral devices on one half-duplex line.
// It owns no goroutines and performs no I/O: the caller pumps Tick for
// outbound frames and Receive for inbound bytes. All methods are safe
// for concurrent use.
type Bus struct {
	mu     sync.Mutex
	config BusConfig

	devices map[uint8]*Device
	order   []uint8
	rr      int

	lastExchangeAt time.Time

	// notes defer callback invocations to outside the lock.
	notes []func()

	log logging.LeveledLogger
}

// NewBus creates an empty bus.
func NewBus(config BusConfig) *Bus {
	if config.TurnaroundGap == 0 {
		config.TurnaroundGap = DefaultTurnaroundGap
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Bus{
		config:  config,
		devices: make(map[uint8]*Device),
		log:     config.LoggerFactory.NewLogger("osdp-cp"),
	}
}

// AddDevice registers a device for polling. When the config carries no
// SCBK the bus key provider is consulted; a missing key means the link
// runs plaintext.
func (b *Bus) AddDevice(config DeviceConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.devices[config.Address]; ok {
		return ErrDeviceExists
	}

	if config.SCBK == nil && b.config.Keys != nil {
		key, err := b.config.Keys.SCBK(config.Address)
		switch err {
		case nil:
			config.SCBK = key
		case keystore.ErrNoKey:
			// plaintext device
		default:
			return err
		}
	}

	d, err := newDevice(config, b.config.LoggerFactory)
	if err != nil {
		return err
	}
	b.devices[config.Address] = d
	b.order = append(b.order, config.Address)
	b.log.Infof("addr %d: registered (secure=%t)", config.Address, d.channel != nil)
	return nil
}

// RemoveDevice deregisters a device. Outstanding commands are discarded
// without their completion callbacks firing, and no offline notification
// is produced.
func (b *Bus) RemoveDevice(address uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[address]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.channel != nil {
		d.channel.Reset()
	}
	delete(b.devices, address)
	for i, a := range b.order {
		if a == address {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.rr >= len(b.order) {
		b.rr = 0
	}
	return nil
}

// SubmitCommand queues an application command for a device. The reply
// callback fires from a later Tick or Receive call.
func (b *Bus) SubmitCommand(address uint8, code command.Code, payload []byte, done ReplyFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[address]
	if !ok {
		return ErrDeviceNotFound
	}
	desc, err := command.Lookup(code)
	if err != nil {
		return err
	}
	if desc.SecureOnly && (d.channel == nil || !d.channel.Established()) {
		return ErrSecureRequired
	}
	if d.state == DeviceOffline {
		return ErrDeviceOffline
	}
	if len(d.queue) >= d.config.QueueSize {
		return ErrCommandQueueFull
	}
	d.queue = append(d.queue, queuedCommand{code: code, payload: payload, done: done})
	return nil
}

// Online reports whether a device is currently responding.
func (b *Bus) Online(address uint8) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[address]
	return ok && d.online
}

// DeviceState returns the protocol state of a device.
func (b *Bus) DeviceState(address uint8) (DeviceState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[address]
	if !ok {
		return DeviceOffline, ErrDeviceNotFound
	}
	return d.state, nil
}

// SecureState returns the secure channel state of a device, or
// ErrNoSecureChannel for plaintext devices.
func (b *Bus) SecureState(address uint8) (secure.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[address]
	if !ok {
		return secure.StateIdle, ErrDeviceNotFound
	}
	if d.channel == nil {
		return secure.StateIdle, ErrNoSecureChannel
	}
	return d.channel.State(), nil
}

// Tick advances the bus and returns at most one frame to transmit. The
// line is half-duplex with a single outstanding exchange, so a device
// that is awaiting a reply blocks all others until it completes or
// times out.
func (b *Bus) Tick(now time.Time) []Outbound {
	b.mu.Lock()
	var out []Outbound

	if d := b.awaiting(); d != nil {
		if frame := d.tick(now, b); frame != nil {
			b.lastExchangeAt = now
			out = []Outbound{{Address: d.config.Address, Frame: frame}}
		}
	} else if now.Sub(b.lastExchangeAt) >= b.config.TurnaroundGap {
		for i := 0; i < len(b.order); i++ {
			d := b.devices[b.order[(b.rr+i)%len(b.order)]]
			if frame := d.tick(now, b); frame != nil {
				b.rr = (b.rr + i + 1) % len(b.order)
				b.lastExchangeAt = now
				out = []Outbound{{Address: d.config.Address, Frame: frame}}
				break
			}
		}
	}

	notes := b.takeNotes()
	b.mu.Unlock()

	for _, fn := range notes {
		fn()
	}
	return out
}

// Receive consumes bytes read from the line. Replies are routed to the
// device with the outstanding exchange; without one the bytes are noise
// and are dropped.
func (b *Bus) Receive(now time.Time, chunk []byte) {
	b.mu.Lock()
	if d := b.awaiting(); d != nil {
		d.feed(chunk, b, now)
		b.lastExchangeAt = now
	}
	notes := b.takeNotes()
	b.mu.Unlock()

	for _, fn := range notes {
		fn()
	}
}

// awaiting returns the device with the in-flight exchange, if any.
// Callers hold the lock.
func (b *Bus) awaiting() *Device {
	for _, addr := range b.order {
		d := b.devices[addr]
		if d.state == DeviceAwaitingReply && d.pending != nil {
			return d
		}
	}
	return nil
}

// note defers a callback to run after the lock is released. Callers
// hold the lock.
func (b *Bus) note(fn func()) {
	b.notes = append(b.notes, fn)
}

// takeNotes drains the deferred callbacks. Callers hold the lock.
func (b *Bus) takeNotes() []func() {
	notes := b.notes
	b.notes = nil
	return notes
}
