// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	modbus "github.com/bsquare-corp/modbus-sphere-library"
	"github.com/bsquare-corp/modbus-sphere-library/internal/simulator"
	"github.com/bsquare-corp/modbus-sphere-library/internal/testutil"
)

func connectTCP(t *testing.T, opts ...testutil.SimulatorOption) *modbus.Handle {
	t.Helper()

	address, cleanup := testutil.StartTCPSimulator(t, opts...)
	t.Cleanup(cleanup)

	m := modbus.NewMaster()
	m.DialTimeout = 5 * time.Second
	h, err := m.ConnectTCP(address)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestTCPReadWriteRegisters(t *testing.T) {
	h := connectTCP(t, testutil.WithDataStoreConfig(&simulator.DataStoreConfig{
		HoldingRegs: map[uint16]uint16{100: 1234, 101: 5678},
		InputRegs:   map[uint16]uint16{7: 0xBEEF},
	}))
	ctx := context.Background()

	regs, err := h.ReadHoldingRegisters(ctx, 1, 100, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if regs[0] != 1234 || regs[1] != 5678 {
		t.Errorf("holding registers = %v, want [1234 5678]", regs)
	}

	regs, err = h.ReadInputRegisters(ctx, 1, 7, 1)
	if err != nil {
		t.Fatalf("ReadInputRegisters failed: %v", err)
	}
	if regs[0] != 0xBEEF {
		t.Errorf("input register = %#04x, want 0xbeef", regs[0])
	}

	if err := h.WriteSingleRegister(ctx, 1, 200, 42); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	if err := h.WriteMultipleRegisters(ctx, 1, 201, []uint16{7, 8, 9}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}

	regs, err = h.ReadHoldingRegisters(ctx, 1, 200, 4)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	want := []uint16{42, 7, 8, 9}
	for i := range want {
		if regs[i] != want[i] {
			t.Errorf("register %v = %v, want %v", 200+i, regs[i], want[i])
		}
	}
}

func TestTCPReadWriteCoils(t *testing.T) {
	h := connectTCP(t, testutil.WithDataStoreConfig(&simulator.DataStoreConfig{
		Coils:          map[uint16]bool{3: true},
		DiscreteInputs: map[uint16]bool{0: true, 2: true},
	}))
	ctx := context.Background()

	coils, err := h.ReadCoils(ctx, 1, 0, 8)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if coils[0] != 0x08 {
		t.Errorf("coils = %#02x, want 0x08", coils[0])
	}

	inputs, err := h.ReadDiscreteInputs(ctx, 1, 0, 8)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs failed: %v", err)
	}
	if inputs[0] != 0x05 {
		t.Errorf("discrete inputs = %#02x, want 0x05", inputs[0])
	}

	if err := h.WriteSingleCoil(ctx, 1, 10, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	if err := h.WriteMultipleCoils(ctx, 1, 11, 3, []byte{0x05}); err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}

	coils, err = h.ReadCoils(ctx, 1, 10, 4)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	// coil 10 on, 11 on, 12 off, 13 on
	if coils[0] != 0x0B {
		t.Errorf("coils = %#02x, want 0x0b", coils[0])
	}
}

func TestTCPFileRecords(t *testing.T) {
	h := connectTCP(t)
	ctx := context.Background()

	err := h.WriteFileRecords(ctx, 1, modbus.FileWriteRequest{
		FileNumber:   4,
		RecordNumber: 7,
		Records:      []uint16{0x06AF, 0x04BE, 0x100D},
	})
	if err != nil {
		t.Fatalf("WriteFileRecords failed: %v", err)
	}

	results, err := h.ReadFileRecords(ctx, 1, modbus.FileRequest{
		FileNumber:   4,
		RecordNumber: 7,
		RecordCount:  3,
	})
	if err != nil {
		t.Fatalf("ReadFileRecords failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %v results, want 1", len(results))
	}
	want := []uint16{0x06AF, 0x04BE, 0x100D}
	for i := range want {
		if results[0][i] != want[i] {
			t.Errorf("record %v = %#04x, want %#04x", 7+i, results[0][i], want[i])
		}
	}
}

func TestTCPExceptionFromSlave(t *testing.T) {
	h := connectTCP(t)

	// The simulator rejects out-of-range reads with illegal data address.
	_, err := h.ReadHoldingRegisters(context.Background(), 1, 65535, 2)
	var mbErr *modbus.ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("got %v, want ModbusError", err)
	}
	if mbErr.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("ExceptionCode = %v, want illegal data address", mbErr.ExceptionCode)
	}
}

func TestTCPExceptionStatus(t *testing.T) {
	h := connectTCP(t, testutil.WithDataStoreConfig(&simulator.DataStoreConfig{
		ExceptionStatus: 0x6D,
	}))

	status, err := h.ReadExceptionStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReadExceptionStatus failed: %v", err)
	}
	if status != 0x6D {
		t.Errorf("status = %#02x, want 0x6d", status)
	}
}

func TestRTUOverTCPRoundTrip(t *testing.T) {
	address, cleanup := testutil.StartRTUOverTCPSimulator(t, testutil.WithDataStoreConfig(&simulator.DataStoreConfig{
		HoldingRegs: map[uint16]uint16{5: 777},
	}))
	defer cleanup()

	m := modbus.NewMaster()
	m.DialTimeout = 5 * time.Second
	h, err := m.ConnectRTUOverTCP(address)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer h.Close()
	ctx := context.Background()

	regs, err := h.ReadHoldingRegisters(ctx, 1, 5, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if regs[0] != 777 {
		t.Errorf("register = %v, want 777", regs[0])
	}

	if err := h.WriteSingleRegister(ctx, 1, 5, 778); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	regs, err = h.ReadHoldingRegisters(ctx, 1, 5, 1)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if regs[0] != 778 {
		t.Errorf("register = %v, want 778", regs[0])
	}
}
