package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

// ErrReadTimeout is returned when the serial read deadline passes with no
// data. The mkII channel reports it as a missing reply.
var ErrReadTimeout = errors.New("transport: read timeout")

// DefaultReadTimeout bounds how long a single serial read blocks.
const DefaultReadTimeout = 5 * time.Second

// SerialConfig describes the serial line to the probe. The probe always
// uses 8 data bits, no parity and one stop bit.
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// SerialTransport is a mkii.Transport over an RS-232 line.
type SerialTransport struct {
	port serial.Port
	cfg  SerialConfig
	log  *zap.Logger
}

var (
	_ mkii.Transport      = (*SerialTransport)(nil)
	_ mkii.BaudRateSetter = (*SerialTransport)(nil)
	_ io.Closer           = (*SerialTransport)(nil)
)

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenSerial opens and configures the port. Stale input is discarded so the
// first reply is not preceded by leftovers from a previous session.
func OpenSerial(cfg SerialConfig, log *zap.Logger) (*SerialTransport, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("transport: serial port not set")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = mkii.DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	port, err := serial.Open(cfg.Port, serialMode(cfg.BaudRate))
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: reset input buffer: %w", err)
	}

	log.Info("serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.BaudRate),
		zap.Duration("read_timeout", cfg.ReadTimeout),
	)
	return &SerialTransport{port: port, cfg: cfg, log: log}, nil
}

// Read returns whatever the line has delivered, or ErrReadTimeout.
func (t *SerialTransport) Read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("transport: serial read: %w", err)
	}
	if n == 0 && len(p) > 0 {
		return 0, ErrReadTimeout
	}
	return n, nil
}

// Write sends all of p.
func (t *SerialTransport) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := t.port.Write(p[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("transport: serial write: %w", err)
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// SetBaudRate changes the line rate of the open port.
func (t *SerialTransport) SetBaudRate(baud int) error {
	if err := t.port.SetMode(serialMode(baud)); err != nil {
		return fmt.Errorf("transport: set baud %d: %w", baud, err)
	}
	t.log.Info("serial baud rate changed", zap.Int("from", t.cfg.BaudRate), zap.Int("to", baud))
	t.cfg.BaudRate = baud
	return nil
}

// BaudRate returns the current line rate.
func (t *SerialTransport) BaudRate() int {
	return t.cfg.BaudRate
}

// Close releases the port.
func (t *SerialTransport) Close() error {
	t.log.Debug("serial port closed", zap.String("port", t.cfg.Port))
	return t.port.Close()
}
