package cp

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/keystore"
	"github.com/osdp-go/osdp/pkg/packet"
	"github.com/osdp-go/osdp/pkg/pd"
	"github.com/osdp-go/osdp/pkg/secure"
)

var testSCBK = []byte{
	0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37,
	0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E, 0x3F,
}

// harness couples a Bus to in-process peripherals with a manual clock.
// Every outbound frame is visible to every peripheral, like a shared
// RS-485 line; replies flow straight back into the bus.
type harness struct {
	t   *testing.T
	bus *Bus
	pds map[uint8]*pd.Peripheral
	now time.Time

	mu  sync.Mutex
	tx  []Outbound
	cut map[uint8]bool // addresses whose wire is severed

	// mangle, when set, rewrites each outbound frame before delivery.
	mangle func([]byte) []byte
}

func newHarness(t *testing.T, cfg BusConfig) *harness {
	t.Helper()
	return &harness{
		t:   t,
		bus: NewBus(cfg),
		pds: make(map[uint8]*pd.Peripheral),
		now: time.Unix(1000, 0),
		cut: make(map[uint8]bool),
	}
}

func (h *harness) addPD(t *testing.T, config pd.Config) *pd.Peripheral {
	t.Helper()
	p, err := pd.NewPeripheral(config)
	if err != nil {
		t.Fatalf("NewPeripheral() error: %v", err)
	}
	h.pds[config.Address] = p
	return p
}

// step advances the clock one tick and moves frames both ways.
func (h *harness) step(d time.Duration) {
	h.now = h.now.Add(d)
	for _, out := range h.bus.Tick(h.now) {
		h.mu.Lock()
		h.tx = append(h.tx, out)
		severed := h.cut[out.Address]
		h.mu.Unlock()
		if severed {
			continue
		}
		frame := out.Frame
		if h.mangle != nil {
			frame = h.mangle(frame)
		}
		for _, p := range h.pds {
			for _, reply := range p.Feed(frame) {
				h.bus.Receive(h.now, reply)
			}
		}
	}
}

// run steps the harness until the condition holds or the deadline passes.
func (h *harness) run(limit time.Duration, cond func() bool) bool {
	deadline := h.now.Add(limit)
	for h.now.Before(deadline) {
		h.step(time.Millisecond)
		if cond() {
			return true
		}
	}
	return false
}

func (h *harness) sever(addr uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cut[addr] = true
}

func TestDeviceComesOnline(t *testing.T) {
	var onlineAddrs []uint8
	h := newHarness(t, BusConfig{Callbacks: Callbacks{
		OnDeviceOnline: func(addr uint8) { onlineAddrs = append(onlineAddrs, addr) },
	}})
	h.addPD(t, pd.Config{Address: 1})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}

	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}
	if len(onlineAddrs) != 1 || onlineAddrs[0] != 1 {
		t.Errorf("online callbacks = %v, want [1]", onlineAddrs)
	}
}

// The sequence number cycles 0,1,2,3,0 across consecutive exchanges.
func TestSequenceNumberCycle(t *testing.T) {
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1, PollInterval: time.Millisecond}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}

	h.run(time.Second, func() bool { return len(h.tx) >= 6 })
	if len(h.tx) < 6 {
		t.Fatalf("only %d frames sent", len(h.tx))
	}

	want := []uint8{0, 1, 2, 3, 0, 1}
	for i, w := range want {
		pkt, err := packet.Decode(h.tx[i].Frame)
		if err != nil {
			t.Fatalf("Decode(frame %d) error: %v", i, err)
		}
		if pkt.Sequence != w {
			t.Errorf("frame %d sequence = %d, want %d", i, pkt.Sequence, w)
		}
	}
}

// A silent device is reported offline exactly once after the retry budget,
// and the queued command fails.
func TestOfflineAfterRetries(t *testing.T) {
	var offline []uint8
	var cmdErr error
	h := newHarness(t, BusConfig{Callbacks: Callbacks{
		OnDeviceOffline: func(addr uint8) { offline = append(offline, addr) },
	}})
	h.addPD(t, pd.Config{Address: 1})
	cfg := DeviceConfig{
		Address:              1,
		PollInterval:         time.Millisecond,
		ResponseTimeout:      5 * time.Millisecond,
		OfflineRetryInterval: time.Hour, // keep re-probes out of this test
	}
	if err := h.bus.AddDevice(cfg); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	h.sever(1)
	if err := h.bus.SubmitCommand(1, command.BuzzerControl,
		(&command.BuzzerPayload{ToneCode: 2, OnTime: 1, Count: 1}).Encode(),
		func(_ command.ReplyCode, _ []byte, err error) { cmdErr = err },
	); err != nil {
		t.Fatalf("SubmitCommand() error: %v", err)
	}

	if !h.run(time.Second, func() bool { return len(offline) > 0 }) {
		t.Fatal("device never went offline")
	}
	h.run(100*time.Millisecond, func() bool { return false })

	if len(offline) != 1 {
		t.Errorf("offline callbacks = %v, want exactly one", offline)
	}
	if !errors.Is(cmdErr, ErrTimeout) {
		t.Errorf("command error = %v, want ErrTimeout", cmdErr)
	}
	if h.bus.Online(1) {
		t.Error("Online(1) = true after offline")
	}
}

func TestSecureChannelEndToEnd(t *testing.T) {
	var states []secure.State
	h := newHarness(t, BusConfig{Callbacks: Callbacks{
		OnSecureChannel: func(_ uint8, state secure.State) { states = append(states, state) },
	}})
	h.addPD(t, pd.Config{Address: 1, SCBK: testSCBK})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1, SCBK: testSCBK}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}

	established := func() bool {
		st, err := h.bus.SecureState(1)
		return err == nil && st == secure.StateEstablished
	}
	if !h.run(time.Second, established) {
		t.Fatal("secure channel never established")
	}
	if !h.bus.Online(1) {
		t.Error("device not online after handshake")
	}
	if len(states) == 0 || states[len(states)-1] != secure.StateEstablished {
		t.Errorf("secure states = %v, want trailing Established", states)
	}
}

func TestSecureCommandEncryptedOnWire(t *testing.T) {
	var ledSeen bool
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{
		Address: 1,
		SCBK:    testSCBK,
		Handlers: pd.Handlers{
			OnLED: func(command.LEDPayload) error { ledSeen = true; return nil },
		},
	})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1, SCBK: testSCBK}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	led := command.LEDPayload{Permanent: command.LEDParams{ControlCode: 1, OnColor: 2}}
	var gotReply command.ReplyCode
	err := h.bus.SubmitCommand(1, command.LEDControl, led.Encode(),
		func(reply command.ReplyCode, _ []byte, err error) {
			if err != nil {
				t.Errorf("LED command failed: %v", err)
			}
			gotReply = reply
		})
	if err != nil {
		t.Fatalf("SubmitCommand() error: %v", err)
	}

	start := len(h.tx)
	if !h.run(time.Second, func() bool { return ledSeen }) {
		t.Fatal("LED command never reached the PD")
	}
	if gotReply != command.Ack {
		t.Errorf("reply = %v, want ACK", gotReply)
	}

	// The LED frame on the wire is SCS_17 and its payload is not the
	// plaintext parameters.
	var found bool
	for _, out := range h.tx[start:] {
		pkt, err := packet.Decode(out.Frame)
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if command.Code(pkt.Code) != command.LEDControl {
			continue
		}
		found = true
		if pkt.SCB == nil || pkt.SCB.Type != packet.SCS17 {
			t.Errorf("LED frame SCB = %+v, want SCS_17", pkt.SCB)
		}
		if bytes.Contains(pkt.Payload, led.Encode()) {
			t.Error("LED payload traveled in plaintext")
		}
	}
	if !found {
		t.Error("LED frame not observed on the wire")
	}
}

// A corrupted MAC breaks the PD's session; the PD then refuses secure
// frames with a security-condition NAK. The bus must read that NAK as a
// dead session and run the handshake again rather than treat the link
// as healthy.
func TestSecureChannelRecoversAfterTamperedFrame(t *testing.T) {
	var states []secure.State
	var ledSeen bool
	h := newHarness(t, BusConfig{Callbacks: Callbacks{
		OnSecureChannel: func(_ uint8, state secure.State) { states = append(states, state) },
	}})
	h.addPD(t, pd.Config{
		Address: 1,
		SCBK:    testSCBK,
		Handlers: pd.Handlers{
			OnLED: func(command.LEDPayload) error { ledSeen = true; return nil },
		},
	})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1, SCBK: testSCBK}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}

	established := func() bool {
		st, err := h.bus.SecureState(1)
		return err == nil && st == secure.StateEstablished
	}
	if !h.run(time.Second, established) {
		t.Fatal("secure channel never established")
	}

	// Corrupt the MAC of the next MAC-carrying frame, once. The frame
	// is re-sealed so only the MAC check fails, not the CRC.
	tampered := false
	h.mangle = func(frame []byte) []byte {
		if tampered || len(frame) < 7 || frame[4]&0x08 == 0 || frame[6] < packet.SCS15 {
			return frame
		}
		tampered = true
		f := append([]byte(nil), frame...)
		f[len(f)-6] ^= 0x01
		crc := packet.CRC16(f[:len(f)-2])
		f[len(f)-2] = byte(crc)
		f[len(f)-1] = byte(crc >> 8)
		return f
	}

	broken := func() bool {
		st, err := h.bus.SecureState(1)
		return tampered && err == nil && st != secure.StateEstablished
	}
	if !h.run(time.Second, broken) {
		t.Fatal("bus never noticed the dead session")
	}
	if !h.run(time.Second, established) {
		t.Fatal("secure channel never re-established")
	}

	// Application traffic flows again under the new session.
	err := h.bus.SubmitCommand(1, command.LEDControl,
		(&command.LEDPayload{Permanent: command.LEDParams{ControlCode: 1}}).Encode(), nil)
	if err != nil {
		t.Fatalf("SubmitCommand() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return ledSeen }) {
		t.Fatal("LED command never reached the PD after recovery")
	}

	var reestablished int
	for _, st := range states {
		if st == secure.StateEstablished {
			reestablished++
		}
	}
	if reestablished < 2 {
		t.Errorf("secure states = %v, want two Established transitions", states)
	}
}

func TestKeySetRequiresSecureChannel(t *testing.T) {
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	keyset := command.KeySetPayload{KeyType: 0x01, Key: bytes.Repeat([]byte{0x11}, 16)}
	err := h.bus.SubmitCommand(1, command.KeySet, keyset.Encode(), nil)
	if !errors.Is(err, ErrSecureRequired) {
		t.Errorf("SubmitCommand(KeySet) = %v, want ErrSecureRequired", err)
	}
}

func TestCardEventDelivery(t *testing.T) {
	var got command.CardRawPayload
	var gotAddr uint8
	delivered := false
	h := newHarness(t, BusConfig{Callbacks: Callbacks{
		OnCardEvent: func(addr uint8, card command.CardRawPayload) {
			gotAddr, got, delivered = addr, card, true
		},
	}})
	device := h.addPD(t, pd.Config{Address: 4})
	if err := h.bus.AddDevice(DeviceConfig{Address: 4, PollInterval: time.Millisecond}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(4) }) {
		t.Fatal("device never came online")
	}

	card := command.CardRawPayload{BitCount: 26, Data: []byte{0xDE, 0xAD, 0xBE, 0x80}}
	if err := device.QueueCardEvent(card); err != nil {
		t.Fatalf("QueueCardEvent() error: %v", err)
	}

	if !h.run(time.Second, func() bool { return delivered }) {
		t.Fatal("card event never delivered")
	}
	if gotAddr != 4 || got.BitCount != 26 || !bytes.Equal(got.Data, card.Data) {
		t.Errorf("card event = addr %d %+v, want addr 4 %+v", gotAddr, got, card)
	}
}

func TestMultiDeviceRoundRobin(t *testing.T) {
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1})
	h.addPD(t, pd.Config{Address: 2})
	for _, addr := range []uint8{1, 2} {
		if err := h.bus.AddDevice(DeviceConfig{Address: addr, PollInterval: time.Millisecond}); err != nil {
			t.Fatalf("AddDevice(%d) error: %v", addr, err)
		}
	}

	if !h.run(time.Second, func() bool { return h.bus.Online(1) && h.bus.Online(2) }) {
		t.Fatal("devices never both came online")
	}

	// Both addresses keep appearing in the outbound stream.
	counts := map[uint8]int{}
	h.tx = nil
	h.run(100*time.Millisecond, func() bool { return false })
	for _, out := range h.tx {
		counts[out.Address]++
	}
	if counts[1] == 0 || counts[2] == 0 {
		t.Errorf("poll distribution = %v, want both devices polled", counts)
	}
}

func TestAddRemoveDevice(t *testing.T) {
	h := newHarness(t, BusConfig{})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if err := h.bus.AddDevice(DeviceConfig{Address: 1}); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate AddDevice() = %v, want ErrDeviceExists", err)
	}
	if err := h.bus.RemoveDevice(1); err != nil {
		t.Fatalf("RemoveDevice() error: %v", err)
	}
	if err := h.bus.RemoveDevice(1); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second RemoveDevice() = %v, want ErrDeviceNotFound", err)
	}
	if err := h.bus.SubmitCommand(1, command.Poll, nil, nil); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SubmitCommand(removed) = %v, want ErrDeviceNotFound", err)
	}
}

func TestKeyProviderSuppliesSCBK(t *testing.T) {
	keys, err := keystore.NewStatic(map[uint8][]byte{7: testSCBK})
	if err != nil {
		t.Fatalf("NewStatic() error: %v", err)
	}
	h := newHarness(t, BusConfig{Keys: keys})
	h.addPD(t, pd.Config{Address: 7, SCBK: testSCBK})
	if err := h.bus.AddDevice(DeviceConfig{Address: 7}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}

	established := func() bool {
		st, err := h.bus.SecureState(7)
		return err == nil && st == secure.StateEstablished
	}
	if !h.run(time.Second, established) {
		t.Fatal("provider-keyed device never established the secure channel")
	}
}

func TestCommandQueueBound(t *testing.T) {
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1, QueueSize: 2, PollInterval: time.Hour}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	// Stop the clock so nothing drains, then overfill.
	payload := (&command.BuzzerPayload{ToneCode: 1}).Encode()
	for i := 0; i < 2; i++ {
		if err := h.bus.SubmitCommand(1, command.BuzzerControl, payload, nil); err != nil {
			t.Fatalf("SubmitCommand(%d) error: %v", i, err)
		}
	}
	if err := h.bus.SubmitCommand(1, command.BuzzerControl, payload, nil); !errors.Is(err, ErrCommandQueueFull) {
		t.Errorf("overfull SubmitCommand() = %v, want ErrCommandQueueFull", err)
	}
}

// memSink collects a received file on the PD side.
type memSink struct {
	buf    []byte
	closed int
}

func (s *memSink) Open(_ uint8, size int) error {
	s.buf = make([]byte, size)
	return nil
}

func (s *memSink) Write(data []byte, offset int) error {
	copy(s.buf[offset:], data)
	return nil
}

func (s *memSink) Close() error {
	s.closed++
	return nil
}

func TestSendFile(t *testing.T) {
	sink := &memSink{}
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1, Files: sink})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	// Three fragments at the default size.
	content := make([]byte, 300)
	for i := range content {
		content[i] = byte(i)
	}

	var transferErr error
	finished := false
	err := h.bus.SendFile(1, 7, bytes.NewReader(content), len(content),
		func(err error) { transferErr, finished = err, true })
	if err != nil {
		t.Fatalf("SendFile() error: %v", err)
	}
	if err := h.bus.SendFile(1, 7, bytes.NewReader(content), len(content), nil); !errors.Is(err, ErrTransferActive) {
		t.Errorf("second SendFile() = %v, want ErrTransferActive", err)
	}

	if !h.run(time.Second, func() bool { return finished }) {
		t.Fatal("transfer never finished")
	}
	if transferErr != nil {
		t.Fatalf("transfer error: %v", transferErr)
	}
	if !bytes.Equal(sink.buf, content) {
		t.Error("PD did not receive the original content")
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}
	if _, _, err := h.bus.FileTransferStatus(1); !errors.Is(err, ErrNoTransfer) {
		t.Errorf("FileTransferStatus() after completion = %v, want ErrNoTransfer", err)
	}
}

func TestSendFileRejectedByPD(t *testing.T) {
	// No sink configured: the PD NAKs the first fragment.
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1})
	if err := h.bus.AddDevice(DeviceConfig{Address: 1}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	var transferErr error
	finished := false
	err := h.bus.SendFile(1, 1, bytes.NewReader([]byte{1, 2, 3}), 3,
		func(err error) { transferErr, finished = err, true })
	if err != nil {
		t.Fatalf("SendFile() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return finished }) {
		t.Fatal("transfer never finished")
	}
	if !errors.Is(transferErr, ErrTransferRejected) {
		t.Errorf("transfer error = %v, want ErrTransferRejected", transferErr)
	}
}

func TestDeviceRecoversAfterOffline(t *testing.T) {
	h := newHarness(t, BusConfig{})
	h.addPD(t, pd.Config{Address: 1})
	cfg := DeviceConfig{
		Address:              1,
		PollInterval:         time.Millisecond,
		ResponseTimeout:      5 * time.Millisecond,
		OfflineRetryInterval: 50 * time.Millisecond,
	}
	if err := h.bus.AddDevice(cfg); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never came online")
	}

	h.sever(1)
	if !h.run(time.Second, func() bool { return !h.bus.Online(1) }) {
		t.Fatal("device never went offline")
	}

	// Reconnect; the offline re-probe brings it back.
	h.mu.Lock()
	h.cut[1] = false
	h.mu.Unlock()
	if !h.run(time.Second, func() bool { return h.bus.Online(1) }) {
		t.Fatal("device never recovered")
	}
}
