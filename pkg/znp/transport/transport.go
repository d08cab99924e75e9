// Package transport opens the byte stream to the coprocessor.
//
// Targets:
//
//	/dev/ttyACM0, COM3, serial:///dev/ttyUSB0   local serial port
//	tcp://host:port                              raw stream via a serial server
//	ws://host/path, wss://host/path              binary websocket messages
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud is the coprocessor's default UART rate.
const DefaultBaud = 115200

// ErrUnsupportedScheme is returned for an unknown target scheme.
var ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

// Options tune Open.
type Options struct {
	Baud        int
	DialTimeout time.Duration
	// Origin is sent in websocket handshakes.
	Origin string
}

// Open opens target with the default options and the given baud rate.
func Open(target string, baud int) (io.ReadWriteCloser, error) {
	return OpenWith(target, Options{Baud: baud})
}

// OpenWith opens target.
func OpenWith(target string, opts Options) (io.ReadWriteCloser, error) {
	if target == "" {
		return nil, errors.New("transport: empty target")
	}
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if !strings.Contains(target, "://") {
		return openSerial(target, opts.Baud)
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	switch u.Scheme {
	case "serial":
		return openSerial(u.Path, opts.Baud)
	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, opts.DialTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "ws", "wss":
		return DialWebsocket(target, opts.Origin)
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
}

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return port, nil
}

// SerialPorts lists local serial ports.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
