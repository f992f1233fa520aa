// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package serial provides the concrete go.bug.st/serial backed
// implementation of transport.SerialLink used by the cmd/zag-coordinator
// and cmd/zag-device entry points. No example repo in the reference pack
// opens a serial port in source (go.bug.st/serial only turns up in
// manifest files), so this package is grounded directly on that module's
// documented API rather than an in-pack usage site; see DESIGN.md.
package serial

import (
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds every blocking Read the same way pyserial's
// port.timeout did in the original bridge: a Read that sees nothing within
// this window returns (0, nil) rather than blocking forever, which is what
// lets transport.Transport notice a stalled link and resync.
const readTimeout = 500 * time.Millisecond

// Link wraps an open serial port as a transport.SerialLink.
type Link struct {
	port serial.Port
}

// Open opens name (e.g. "/dev/ttyUSB0") at baud and configures it 8N1 with
// the timeout transport.SerialLink requires.
func Open(name string, baud int) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return &Link{port: port}, nil
}

// Read implements transport.SerialLink.
func (l *Link) Read(p []byte) (int, error) {
	return l.port.Read(p)
}

// Write implements transport.SerialLink.
func (l *Link) Write(p []byte) (int, error) {
	return l.port.Write(p)
}

// Flush discards any received bytes still buffered on the input side; the
// output buffer is left as it is.
func (l *Link) Flush() error {
	return l.port.ResetInputBuffer()
}

// Close releases the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}
