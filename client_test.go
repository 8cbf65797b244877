// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// replyWith answers every request with the given function code and data.
func replyWith(functionCode byte, data []byte) func([]byte) [][]byte {
	return func(request []byte) [][]byte {
		return [][]byte{tcpReply(request, 0, &ProtocolDataUnit{
			SlaveID:      request[6],
			FunctionCode: functionCode,
			Data:         data,
		})}
	}
}

// echoWrite answers a write request by echoing its first four data bytes.
func echoWrite(request []byte) [][]byte {
	return [][]byte{tcpReply(request, 0, &ProtocolDataUnit{
		SlaveID:      request[6],
		FunctionCode: request[7],
		Data:         request[8:12],
	})}
}

func TestQuantityValidation(t *testing.T) {
	transport := newMockTransport(nil)
	h := testHandle(t, transport, tcpFramer{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"read coils zero", func() error {
			_, err := h.ReadCoils(ctx, 1, 0, 0)
			return err
		}},
		{"read coils too many", func() error {
			_, err := h.ReadCoils(ctx, 1, 0, 2001)
			return err
		}},
		{"read discrete inputs too many", func() error {
			_, err := h.ReadDiscreteInputs(ctx, 1, 0, 2001)
			return err
		}},
		{"read holding registers too many", func() error {
			_, err := h.ReadHoldingRegisters(ctx, 1, 0, 126)
			return err
		}},
		{"read input registers zero", func() error {
			_, err := h.ReadInputRegisters(ctx, 1, 0, 0)
			return err
		}},
		{"write multiple coils too many", func() error {
			return h.WriteMultipleCoils(ctx, 1, 0, 1969, make([]byte, 247))
		}},
		{"write multiple registers empty", func() error {
			return h.WriteMultipleRegisters(ctx, 1, 0, nil)
		}},
		{"write multiple registers too many", func() error {
			return h.WriteMultipleRegisters(ctx, 1, 0, make([]uint16, 124))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidQuantity) {
				t.Errorf("got %v, want ErrInvalidQuantity", err)
			}
		})
	}

	if transport.sendCount() != 0 {
		t.Errorf("rejected requests reached the transport, %v sends", transport.sendCount())
	}
}

func TestReadCoilsRequestEncoding(t *testing.T) {
	transport := newMockTransport(replyWith(FuncCodeReadCoils, []byte{2, 0xCD, 0x01}))
	h := testHandle(t, transport, tcpFramer{})

	results, err := h.ReadCoils(context.Background(), 0x11, 0x0013, 10)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if !bytes.Equal(results, []byte{0xCD, 0x01}) {
		t.Errorf("results = % x, want cd 01", results)
	}

	// Request body: slave id, function code, address, quantity.
	sent := transport.sent[0]
	wantBody := []byte{0x11, FuncCodeReadCoils, 0x00, 0x13, 0x00, 0x0A}
	if !bytes.Equal(sent[tcpHeaderSize:], wantBody) {
		t.Errorf("request body = % x, want % x", sent[tcpHeaderSize:], wantBody)
	}
}

func TestReadRegistersByteCountMismatch(t *testing.T) {
	// Count byte says 2 but the request asked for 2 registers (4 bytes).
	transport := newMockTransport(replyWith(FuncCodeReadHoldingRegisters, []byte{2, 0x00, 0x01}))
	h := testHandle(t, transport, tcpFramer{})

	_, err := h.ReadHoldingRegisters(context.Background(), 1, 0, 2)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("got %v, want ErrInvalidResponse", err)
	}
}

func TestReadExceptionStatus(t *testing.T) {
	transport := newMockTransport(replyWith(FuncCodeReadExceptionStatus, []byte{0x6D}))
	h := testHandle(t, transport, tcpFramer{})

	status, err := h.ReadExceptionStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReadExceptionStatus failed: %v", err)
	}
	if status != 0x6D {
		t.Errorf("status = %#02x, want 0x6d", status)
	}
}

func TestWriteSingleCoil(t *testing.T) {
	transport := newMockTransport(echoWrite)
	h := testHandle(t, transport, tcpFramer{})

	if err := h.WriteSingleCoil(context.Background(), 1, 0x00AC, true); err != nil {
		t.Fatalf("WriteSingleCoil(on) failed: %v", err)
	}
	wantBody := []byte{1, FuncCodeWriteSingleCoil, 0x00, 0xAC, 0xFF, 0x00}
	if !bytes.Equal(transport.sent[0][tcpHeaderSize:], wantBody) {
		t.Errorf("on request body = % x, want % x", transport.sent[0][tcpHeaderSize:], wantBody)
	}

	if err := h.WriteSingleCoil(context.Background(), 1, 0x00AC, false); err != nil {
		t.Fatalf("WriteSingleCoil(off) failed: %v", err)
	}
	wantBody = []byte{1, FuncCodeWriteSingleCoil, 0x00, 0xAC, 0x00, 0x00}
	if !bytes.Equal(transport.sent[1][tcpHeaderSize:], wantBody) {
		t.Errorf("off request body = % x, want % x", transport.sent[1][tcpHeaderSize:], wantBody)
	}
}

func TestWriteSingleRegisterEchoMismatch(t *testing.T) {
	transport := newMockTransport(replyWith(FuncCodeWriteSingleRegister, []byte{0x00, 0x01, 0xBE, 0xEF}))
	h := testHandle(t, transport, tcpFramer{})

	err := h.WriteSingleRegister(context.Background(), 1, 1, 0x0003)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("got %v, want ErrInvalidResponse", err)
	}
}

func TestWriteMultipleCoils(t *testing.T) {
	transport := newMockTransport(echoWrite)
	h := testHandle(t, transport, tcpFramer{})

	err := h.WriteMultipleCoils(context.Background(), 1, 0x0013, 10, []byte{0xCD, 0x01})
	if err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}

	wantBody := []byte{1, FuncCodeWriteMultipleCoils, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}
	if !bytes.Equal(transport.sent[0][tcpHeaderSize:], wantBody) {
		t.Errorf("request body = % x, want % x", transport.sent[0][tcpHeaderSize:], wantBody)
	}
}

func TestWriteMultipleRegisters(t *testing.T) {
	transport := newMockTransport(echoWrite)
	h := testHandle(t, transport, tcpFramer{})

	err := h.WriteMultipleRegisters(context.Background(), 1, 0x0001, []uint16{0x000A, 0x0102})
	if err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}

	wantBody := []byte{1, FuncCodeWriteMultipleRegisters, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}
	if !bytes.Equal(transport.sent[0][tcpHeaderSize:], wantBody) {
		t.Errorf("request body = % x, want % x", transport.sent[0][tcpHeaderSize:], wantBody)
	}
}
