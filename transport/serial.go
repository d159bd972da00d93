package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.bug.st/serial"
)

// SerialConfig describes the line settings of a serial port. Zero fields take
// the ASTM E1381 defaults of 9600 baud, 8 data bits, no parity, 1 stop bit.
type SerialConfig struct {
	BaudRate int
	DataBits int
	Parity   string // "none", "even", "odd"
	StopBits int    // 1 or 2
}

func (c SerialConfig) mode() (*serial.Mode, error) {
	m := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	if m.BaudRate == 0 {
		m.BaudRate = 9600
	}

	if m.DataBits == 0 {
		m.DataBits = 8
	}

	switch c.Parity {
	case "", "none", "N":
	case "even", "E":
		m.Parity = serial.EvenParity
	case "odd", "O":
		m.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("transport: unsupported parity %q", c.Parity)
	}

	switch c.StopBits {
	case 0, 1:
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("transport: unsupported stop bits %d", c.StopBits)
	}

	return m, nil
}

// OpenSerial opens the serial device at path and returns it as a Stream.
func OpenSerial(path string, cfg SerialConfig) (*Stream, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	return NewStream(path, port), nil
}

// SerialPorts lists the serial devices present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// DialTCP connects to a serial-to-Ethernet converter or instrument listening on addr.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*Stream, error) {
	d := net.Dialer{Timeout: timeout}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	return NewStream(addr, conn), nil
}
