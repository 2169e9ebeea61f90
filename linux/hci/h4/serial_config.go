package h4

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// Baud rate indexes of the serial configuration.
const (
	Baud300 uint8 = iota
	Baud600
	Baud1200
	Baud2400
	Baud9600
	Baud19200
	Baud57600
	Baud115200
	Baud230400
	Baud460800
	Baud921600
	Baud1M
	Baud1_5M
	Baud2M
	Baud3M
	Baud4M
	BaudAuto
)

// Data format bits.
const (
	StopBits1   uint16 = 1
	StopBits1_5 uint16 = 1 << 1
	StopBits2   uint16 = 1 << 2
	ParityNone  uint16 = 1 << 3
	ParityEven  uint16 = 1 << 4
	ParityOdd   uint16 = 1 << 5
	DataBits5   uint16 = 1 << 6
	DataBits6   uint16 = 1 << 7
	DataBits7   uint16 = 1 << 8
	DataBits8   uint16 = 1 << 9
)

var baudRates = map[uint8]uint{
	Baud300:    300,
	Baud600:    600,
	Baud1200:   1200,
	Baud2400:   2400,
	Baud9600:   9600,
	Baud19200:  19200,
	Baud57600:  57600,
	Baud115200: 115200,
	Baud230400: 230400,
	Baud460800: 460800,
	Baud921600: 921600,
	Baud1M:     1000000,
	Baud1_5M:   1500000,
	Baud2M:     2000000,
	Baud3M:     3000000,
	Baud4M:     4000000,
}

// SerialConfig is the line configuration snapshot applied when a UART port
// is opened.
type SerialConfig struct {
	Format      uint16
	Baud        uint8
	FlowControl bool
}

// DefaultSerialConfig is 3M 8N1 with hardware flow control.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Format:      DataBits8 | ParityNone | StopBits1,
		Baud:        Baud3M,
		FlowControl: true,
	}
}

// Options translates the snapshot into go-serial open options for path.
func (c SerialConfig) Options(path string) (serial.OpenOptions, error) {
	o := serial.OpenOptions{
		PortName:          path,
		RTSCTSFlowControl: c.FlowControl,

		// block until at least one byte arrives; the reader polls first
		InterCharacterTimeout: 0,
		MinimumReadSize:       1,
	}

	br, ok := baudRates[c.Baud]
	if !ok {
		return o, errors.Errorf("unsupported baud idx %d", c.Baud)
	}
	o.BaudRate = br

	switch {
	case c.Format&DataBits8 != 0:
		o.DataBits = 8
	case c.Format&DataBits7 != 0:
		o.DataBits = 7
	case c.Format&DataBits6 != 0:
		o.DataBits = 6
	case c.Format&DataBits5 != 0:
		o.DataBits = 5
	default:
		return o, errors.New("unsupported data bits")
	}

	switch {
	case c.Format&ParityNone != 0:
		o.ParityMode = serial.PARITY_NONE
	case c.Format&ParityEven != 0:
		o.ParityMode = serial.PARITY_EVEN
	case c.Format&ParityOdd != 0:
		o.ParityMode = serial.PARITY_ODD
	default:
		return o, errors.New("unsupported parity bit mode")
	}

	switch {
	case c.Format&StopBits1 != 0:
		o.StopBits = 1
	case c.Format&StopBits2 != 0:
		o.StopBits = 2
	default:
		return o, errors.New("unsupported stop bits")
	}

	return o, nil
}

// Serial is an opened UART. Reads and writes go through the raw descriptor;
// the stream is kept only to own the descriptor's lifetime.
type Serial struct {
	rwc  io.ReadWriteCloser
	fd   uintptr
	path string
	cfg  SerialConfig
}

func (s *Serial) Fd() uintptr { return s.fd }

func (s *Serial) Close() error {
	return errors.Wrapf(s.rwc.Close(), "can't close %s", s.path)
}

func (s *Serial) Config() SerialConfig { return s.cfg }

func (s *Serial) String() string { return s.path }
