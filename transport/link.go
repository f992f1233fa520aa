// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package transport implements the framed host↔radio link: magic-based
// resynchronisation, header+payload reassembly, demultiplexing of
// synchronous responses from asynchronous events, and a blocking
// request/response API serialised by a request mutex.
package transport

import "errors"

// SerialLink is the byte-level collaborator Transport is built on: a
// blocking, timeout-bounded byte channel. Spec.md treats the underlying OS
// serial port as an external collaborator out of scope for this stack;
// package serial supplies a concrete implementation.
//
// Read must honor a bounded timeout: on timeout it returns (0, nil) rather
// than blocking forever or returning an error, matching pyserial's
// timeout-bounded read() that the original link was built on.
type SerialLink interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Flush() error
}

var (
	// ErrIO marks a fatal, non-recoverable link failure; Transport.Run
	// returns it and the caller should shut the process down.
	ErrIO = errors.New("transport: io error")
	// ErrResponse is returned by Request when the radio replies with the
	// err response kind.
	ErrResponse = errors.New("transport: radio returned error response")
	// ErrShutdown is returned by any in-flight Request when Shutdown is
	// called before a response arrives.
	ErrShutdown = errors.New("transport: shut down")
	// errTimeout is an internal sentinel meaning a single read attempt
	// produced no bytes before the serial timeout elapsed.
	errTimeout = errors.New("transport: read timeout")
)
