// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"context"
	"testing"

	"go.bug.st/serial"
)

func TestEncodeSerialConfig(t *testing.T) {
	msg := encodeSerialConfig(SerialSetup{
		BaudRate:   BaudSet19200,
		HalfDuplex: true,
		ParityOn:   true,
		ParityEven: false,
		StopBits:   1,
		WordLength: 8,
	})

	want := []byte{
		intercoreProtocolUART, intercoreCommandConfig, intercoreHeaderSize, 0,
		0x00, 0x06, // 19200 baud divisor
		1, // half duplex
		1, // parity on
		0, // odd parity
		1, // stop bits
		8, // word length
	}
	if !bytes.Equal(msg, want) {
		t.Errorf("config message = % x, want % x", msg, want)
	}
}

func TestSerialModeConversions(t *testing.T) {
	if toSerialStopBits(OneStopBit) != serial.OneStopBit {
		t.Error("OneStopBit converted wrongly")
	}
	if toSerialStopBits(TwoStopBits) != serial.TwoStopBits {
		t.Error("TwoStopBits converted wrongly")
	}
	if toSerialParity(NoParity) != serial.NoParity {
		t.Error("NoParity converted wrongly")
	}
	if toSerialParity(OddParity) != serial.OddParity {
		t.Error("OddParity converted wrongly")
	}
	if toSerialParity(EvenParity) != serial.EvenParity {
		t.Error("EvenParity converted wrongly")
	}
}

// intercoreReply frames a response the way the real-time transmitter does:
// link header plus raw PDU, checksums handled remotely.
func intercoreReply(pdu *ProtocolDataUnit) []byte {
	reply, err := intercoreFramer{}.encode(0, pdu)
	if err != nil {
		panic(err)
	}
	return reply
}

func TestConnectIntercore(t *testing.T) {
	transport := newMockTransport(func(request []byte) [][]byte {
		if request[0] == intercoreProtocolUART {
			// Configuration accepted.
			return [][]byte{{intercoreProtocolUART, intercoreCommandConfig, intercoreHeaderSize, 0, 0x00}}
		}
		return [][]byte{intercoreReply(&ProtocolDataUnit{
			SlaveID:      request[4],
			FunctionCode: request[5],
			Data:         []byte{2, 0x12, 0x34},
		})}
	})

	m := NewMaster()
	h, err := m.ConnectIntercore(context.Background(), transport, SerialSetup{
		BaudRate:   BaudSet9600,
		StopBits:   1,
		WordLength: 8,
	})
	if err != nil {
		t.Fatalf("ConnectIntercore failed: %v", err)
	}
	defer h.Close()

	// The configuration exchange must precede any Modbus traffic.
	if transport.sent[0][0] != intercoreProtocolUART {
		t.Errorf("first message on the link = % x, not the configuration", transport.sent[0])
	}

	regs, err := h.ReadHoldingRegisters(context.Background(), 1, 0, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if len(regs) != 1 || regs[0] != 0x1234 {
		t.Errorf("registers = %v, want [0x1234]", regs)
	}
	if transport.sent[1][0] != intercoreProtocolModbus {
		t.Errorf("data message tag = %v, want %v", transport.sent[1][0], intercoreProtocolModbus)
	}
}

func TestConnectIntercoreRejectedConfig(t *testing.T) {
	transport := newMockTransport(func(request []byte) [][]byte {
		// Non-zero status: the transmitter refused the line parameters.
		return [][]byte{{intercoreProtocolUART, intercoreCommandConfig, intercoreHeaderSize, 0, 0x01}}
	})

	m := NewMaster()
	if _, err := m.ConnectIntercore(context.Background(), transport, SerialSetup{BaudRate: BaudSet9600}); err == nil {
		t.Fatal("rejected configuration did not fail the connect")
	}
}
