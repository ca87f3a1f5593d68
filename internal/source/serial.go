package source

import (
	"bytes"
	"strings"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 2 * time.Second

	readChunk = 256
	maxLine   = 4096
)

// SerialConfig identifies the serial device
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

func (c SerialConfig) Validate() error {
	errFactory := errors.New()

	if c.Port == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "serial port is empty")
	}
	if c.BaudRate <= 0 {
		return errFactory.WithData(ErrInvalidConfig, c.BaudRate)
	}
	return nil
}

// port is the subset of serial.Port used for line framing
type port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Serial frames a serial byte stream into lines
type Serial struct {
	port    port
	name    string
	buf     []byte
	pending []byte
}

// OpenSerial opens the configured port with 8N1 framing and a bounded read
// timeout. Any failure is reported as ErrDeviceUnavailable.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrDeviceUnavailable, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrDeviceUnavailable, err).WithMessage("failed to open serial port " + cfg.Port)
	}

	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, errFactory.Wrap(ErrDeviceUnavailable, err)
	}

	return newSerial(p, cfg.Port), nil
}

func newSerial(p port, name string) *Serial {
	return &Serial{
		port: p,
		name: name,
		buf:  make([]byte, readChunk),
	}
}

// Name returns the port identifier
func (s *Serial) Name() string {
	return s.name
}

// ReadLine returns the next line without its terminator. Invalid UTF-8 is
// dropped. When the read timeout elapses with a partial line buffered, the
// partial line is returned; with nothing buffered the result is a timeout.
func (s *Serial) ReadLine() (string, error) {
	errFactory := errors.New()

	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			return s.take(i, i+1), nil
		}
		if len(s.pending) >= maxLine {
			return s.take(len(s.pending), len(s.pending)), nil
		}

		n, err := s.port.Read(s.buf)
		if err != nil {
			return "", errFactory.Wrap(ErrReadFailed, err)
		}

		if n == 0 {
			if len(s.pending) > 0 {
				return s.take(len(s.pending), len(s.pending)), nil
			}
			return "", errFactory.New(ErrReadTimeout)
		}

		s.pending = append(s.pending, s.buf[:n]...)
	}
}

// Close releases the port
func (s *Serial) Close() error {
	if err := s.port.Close(); err != nil {
		return errors.New().Wrap(ErrCloseFailed, err)
	}
	return nil
}

// take returns pending[:end] as a line and drops pending[:next]
func (s *Serial) take(end, next int) string {
	line := strings.ToValidUTF8(string(s.pending[:end]), "")
	rest := copy(s.pending, s.pending[next:])
	s.pending = s.pending[:rest]

	return strings.TrimRight(line, "\r")
}

// SerialOpener adapts OpenSerial to an Opener
func SerialOpener(cfg SerialConfig) Opener {
	return func() (LineReader, error) {
		s, err := OpenSerial(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
