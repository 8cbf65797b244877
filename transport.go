// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"fmt"
	"io"
	"net"
	"time"
)

// Transport moves raw bytes to and from a slave device. Receive blocks until
// bytes arrive; the delivery flow of each handle calls it in a loop and feeds
// whatever arrives to the reassembler, so implementations must return chunks
// as they come rather than waiting for complete messages. A graceful close by
// the peer is reported as io.EOF (or zero bytes), which disconnects the
// handle.
//
// Implementations for TCP sockets and local serial ports are provided; the
// inter-processor link to a real-time serial transmitter is injected by the
// caller through ConnectIntercore.
type Transport interface {
	Send(p []byte) error
	Receive(p []byte) (int, error)
	Close() error
}

// streamTransport adapts any byte stream, such as a net.Conn or an intercore
// socket, to the Transport interface.
type streamTransport struct {
	rw io.ReadWriteCloser
}

// NewStreamTransport wraps a byte stream in a Transport.
func NewStreamTransport(rw io.ReadWriteCloser) Transport {
	return &streamTransport{rw: rw}
}

func (t *streamTransport) Send(p []byte) error {
	if _, err := t.rw.Write(p); err != nil {
		return fmt.Errorf("writing to transport: %w", err)
	}
	return nil
}

func (t *streamTransport) Receive(p []byte) (int, error) {
	return t.rw.Read(p)
}

func (t *streamTransport) Close() error {
	return t.rw.Close()
}

// dialTCP establishes the socket shared by the TCP and RTU-over-TCP connect
// paths; the two differ only in the framer attached afterwards.
func dialTCP(address string, timeout time.Duration) (Transport, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return NewStreamTransport(conn), nil
}
