package transport

import (
	"time"

	"github.com/pion/logging"
	"go.bug.st/serial"
)

// SerialConfig configures a serial bus transport.
type SerialConfig struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string

	// BaudRate is the bus speed. OSDP allows 9600 through 230400;
	// defaults to 9600, the mandatory rate.
	BaudRate int

	// LoggerFactory creates the transport logger.
	LoggerFactory logging.LoggerFactory
}

// Serial is a Transport over an RS-485 serial adapter, 8N1 framing as the
// standard requires.
type Serial struct {
	port serial.Port
	log  logging.LeveledLogger
}

// NewSerial opens the serial device.
func NewSerial(config SerialConfig) (*Serial, error) {
	baud := config.BaudRate
	if baud == 0 {
		baud = 9600
	}

	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(config.Device, mode)
	if err != nil {
		return nil, err
	}

	s := &Serial{
		port: port,
		log:  factory.NewLogger("osdp-serial"),
	}
	s.log.Infof("opened %s at %d baud", config.Device, baud)
	return s, nil
}

// Read reads available bytes from the port.
func (s *Serial) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

// Write writes a frame to the port.
func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadDeadline bounds the next Read.
func (s *Serial) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	timeout := time.Until(t)
	if timeout < 0 {
		timeout = 0
	}
	return s.port.SetReadTimeout(timeout)
}

// Close drains and closes the port.
func (s *Serial) Close() error {
	if err := s.port.Drain(); err != nil {
		s.log.Warnf("drain failed: %v", err)
	}
	return s.port.Close()
}
