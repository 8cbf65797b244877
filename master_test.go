// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"testing"
)

func TestTransactionIDsSharedAcrossHandles(t *testing.T) {
	m := NewMaster()
	t1 := newMockTransport(echoRegisters)
	t2 := newMockTransport(echoRegisters)
	h1 := newHandle(m, t1, tcpFramer{})
	h2 := newHandle(m, t2, tcpFramer{})
	defer h1.Close()
	defer h2.Close()

	if _, err := h1.ReadHoldingRegisters(context.Background(), 1, 0, 1); err != nil {
		t.Fatalf("request on first handle failed: %v", err)
	}
	if _, err := h2.ReadHoldingRegisters(context.Background(), 1, 0, 1); err != nil {
		t.Fatalf("request on second handle failed: %v", err)
	}
	if _, err := h1.ReadHoldingRegisters(context.Background(), 1, 0, 1); err != nil {
		t.Fatalf("second request on first handle failed: %v", err)
	}

	ids := []uint16{
		binary.BigEndian.Uint16(t1.sent[0]),
		binary.BigEndian.Uint16(t2.sent[0]),
		binary.BigEndian.Uint16(t1.sent[1]),
	}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("transaction ids = %v, want the shared sequence [1 2 3]", ids)
	}
}

func TestTransactionIDWraps(t *testing.T) {
	m := NewMaster()
	m.txnID = 0xFFFF

	if id := m.nextTxnID(); id != 0 {
		t.Errorf("nextTxnID after 0xFFFF = %v, want 0", id)
	}
	if id := m.nextTxnID(); id != 1 {
		t.Errorf("nextTxnID after wrap = %v, want 1", id)
	}
}

func TestMasterCloseClosesHandles(t *testing.T) {
	m := NewMaster()
	transport := newMockTransport(nil)
	h := newHandle(m, transport, tcpFramer{})

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-transport.done:
	default:
		t.Error("transport was not closed")
	}
	if h.state() != stateDisconnected {
		t.Errorf("handle state = %v after master close, want disconnected", h.state())
	}
}
