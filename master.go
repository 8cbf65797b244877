// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Master owns the state shared across handles: the transaction id sequence
// and the registry of open handles. Independent masters never interfere, so
// tests and multi-plant processes can each run their own.
type Master struct {
	// DialTimeout bounds TCP connection establishment. Zero means the
	// operating system default.
	DialTimeout time.Duration
	// Logger, when set, is inherited by every handle this master opens.
	Logger *log.Logger

	txnID uint32

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewMaster returns a master with no open handles.
func NewMaster() *Master {
	return &Master{
		handles: make(map[*Handle]struct{}),
	}
}

// nextTxnID returns the next transaction id in the shared 16-bit sequence.
// The sequence is shared by all handles of this master so ids stay unique
// across connections to the same device.
func (m *Master) nextTxnID() uint16 {
	return uint16(atomic.AddUint32(&m.txnID, 1))
}

func (m *Master) add(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[h] = struct{}{}
}

func (m *Master) remove(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, h)
}

// ConnectTCP opens a Modbus/TCP connection to address ("host:port"). Each
// request is framed with a transaction header and responses are matched
// against it, so late replies from slow devices never corrupt a later
// exchange.
func (m *Master) ConnectTCP(address string) (*Handle, error) {
	t, err := dialTCP(address, m.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return newHandle(m, t, tcpFramer{}), nil
}

// ConnectRTUOverTCP opens a connection to a bridge at address that relays
// raw RTU frames over a TCP stream. Frames carry a CRC16 trailer instead of
// a transaction header; correlation relies on the one-outstanding-request
// discipline.
func (m *Master) ConnectRTUOverTCP(address string) (*Handle, error) {
	t, err := dialTCP(address, m.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return newHandle(m, t, rtuFramer{}), nil
}

// ConnectRTU opens a directly attached serial line (e.g. "/dev/ttyUSB0")
// speaking Modbus RTU.
func (m *Master) ConnectRTU(port string, config SerialConfig) (*Handle, error) {
	t, err := openSerial(port, config)
	if err != nil {
		return nil, err
	}
	return newHandle(m, t, rtuFramer{}), nil
}

// ConnectIntercore attaches to a real-time serial transmitter reachable
// through transport, then pushes the line parameters in setup to it. The
// transmitter owns CRC generation and checking, so frames on this link carry
// only the private header.
func (m *Master) ConnectIntercore(ctx context.Context, transport Transport, setup SerialSetup) (*Handle, error) {
	h := newHandle(m, transport, intercoreFramer{})
	if err := h.configure(ctx, setup); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Close closes every handle still open on this master.
func (m *Master) Close() error {
	m.mu.Lock()
	open := make([]*Handle, 0, len(m.handles))
	for h := range m.handles {
		open = append(open, h)
	}
	m.mu.Unlock()

	var first error
	for _, h := range open {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
