package cp

import (
	"io"
	"time"

	"github.com/osdp-go/osdp/pkg/command"
)

// fileTransfer is an in-progress CP-to-PD file transfer. The device ticks
// it one fragment per exchange; the PD's osdp_FTSTAT replies drive the
// pacing and the fragment size.
type fileTransfer struct {
	fileType uint8
	reader   io.ReaderAt
	size     int

	// offset is the next byte to send; bytes below it are delivered.
	offset int

	// fragment is the current fragment size, lowered when the PD
	// advertises a smaller limit.
	fragment int

	done func(error)
}

// SendFile starts streaming a file to the PD, one osdp_FILETRANSFER
// fragment per exchange. The file type identifies the content; CP and PD
// pre-share the mapping. done is called once, with nil on completion or
// the failure reason. One transfer per device at a time; polling is
// suspended while it runs.
func (b *Bus) SendFile(address uint8, fileType uint8, r io.ReaderAt, size int, done func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[address]
	if !ok {
		return ErrDeviceNotFound
	}
	if size <= 0 {
		return ErrInvalidFileSize
	}
	if d.state == DeviceOffline {
		return ErrDeviceOffline
	}
	if d.ft != nil {
		return ErrTransferActive
	}

	d.ft = &fileTransfer{
		fileType: fileType,
		reader:   r,
		size:     size,
		fragment: DefaultFileFragmentSize,
		done:     done,
	}
	return nil
}

// FileTransferStatus reports the total size and bytes delivered of the
// transfer running on a device, or ErrNoTransfer.
func (b *Bus) FileTransferStatus(address uint8) (size, sent int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[address]
	if !ok {
		return 0, 0, ErrDeviceNotFound
	}
	if d.ft == nil {
		return 0, 0, ErrNoTransfer
	}
	return d.ft.size, d.ft.offset, nil
}

// buildFileFragment emits the next osdp_FILETRANSFER frame. The offset
// advances at build time so a retransmission reuses the identical frame.
func (d *Device) buildFileFragment(now time.Time, bus *Bus) []byte {
	t := d.ft
	n := t.size - t.offset
	if n > t.fragment {
		n = t.fragment
	}
	buf := make([]byte, n)
	if _, err := t.reader.ReadAt(buf, int64(t.offset)); err != nil {
		d.failTransfer(bus, err)
		return nil
	}

	ft := command.FileTransferPayload{
		Type:   t.fileType,
		Total:  uint32(t.size),
		Offset: uint32(t.offset),
		Data:   buf,
	}
	frame := d.build(command.FileTransfer, ft.Encode(), nil, now, bus)
	if frame != nil {
		t.offset += n
	}
	return frame
}

// onFTStat applies the PD's verdict on the fragment just delivered.
func (d *Device) onFTStat(payload []byte, bus *Bus, now time.Time) {
	t := d.ft
	if t == nil {
		d.log.Debugf("addr %d: FTSTAT with no transfer", d.config.Address)
		return
	}

	var stat command.FTStatPayload
	if err := stat.Decode(payload); err != nil {
		d.failTransfer(bus, err)
		return
	}
	if stat.Status < 0 {
		d.log.Warnf("addr %d: transfer aborted by PD, status %d", d.config.Address, stat.Status)
		d.failTransfer(bus, ErrTransferRejected)
		return
	}

	if stat.UpdateMsgMax > 0 && int(stat.UpdateMsgMax) < t.fragment {
		t.fragment = int(stat.UpdateMsgMax)
	}
	if stat.Delay > 0 {
		d.holdoff = now.Add(time.Duration(stat.Delay) * time.Millisecond)
	}

	if t.offset >= t.size {
		done := t.done
		d.ft = nil
		d.log.Infof("addr %d: file transfer complete, %d bytes", d.config.Address, t.size)
		if done != nil {
			bus.note(func() { done(nil) })
		}
	}
}

// failTransfer ends the transfer with an error.
func (d *Device) failTransfer(bus *Bus, err error) {
	t := d.ft
	if t == nil {
		return
	}
	d.ft = nil
	if t.done != nil {
		done := t.done
		bus.note(func() { done(err) })
	}
}
