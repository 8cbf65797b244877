// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

package integration

import (
	"context"
	"testing"
	"time"

	modbus "github.com/bsquare-corp/modbus-sphere-library"
	"github.com/bsquare-corp/modbus-sphere-library/internal/simulator"
	"github.com/bsquare-corp/modbus-sphere-library/internal/testutil"
)

func TestSerialRTURoundTrip(t *testing.T) {
	devicePath, cleanup := testutil.StartSerialSimulator(t,
		testutil.WithSlaveID(17),
		testutil.WithBaudRate(19200),
		testutil.WithDataStoreConfig(&simulator.DataStoreConfig{
			HoldingRegs: map[uint16]uint16{0: 0x1234},
		}))
	defer cleanup()

	m := modbus.NewMaster()
	h, err := m.ConnectRTU(devicePath, modbus.SerialConfig{
		BaudRate: 19200,
		DataBits: 8,
		StopBits: modbus.OneStopBit,
		Parity:   modbus.NoParity,
	})
	if err != nil {
		t.Fatalf("failed to open %s: %v", devicePath, err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	regs, err := h.ReadHoldingRegisters(ctx, 17, 0, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if regs[0] != 0x1234 {
		t.Errorf("register = %#04x, want 0x1234", regs[0])
	}

	if err := h.WriteSingleCoil(ctx, 17, 4, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	coils, err := h.ReadCoils(ctx, 17, 4, 1)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if coils[0] != 0x01 {
		t.Errorf("coil = %#02x, want on", coils[0])
	}
}

func TestSerialRTUFileRecords(t *testing.T) {
	devicePath, cleanup := testutil.StartSerialSimulator(t, testutil.WithSlaveID(1))
	defer cleanup()

	m := modbus.NewMaster()
	h, err := m.ConnectRTU(devicePath, modbus.SerialConfig{
		BaudRate: 19200,
		DataBits: 8,
		StopBits: modbus.OneStopBit,
		Parity:   modbus.NoParity,
	})
	if err != nil {
		t.Fatalf("failed to open %s: %v", devicePath, err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.WriteFileRecords(ctx, 1, modbus.FileWriteRequest{
		FileNumber:   1,
		RecordNumber: 100,
		Records:      []uint16{0xCAFE},
	}); err != nil {
		t.Fatalf("WriteFileRecords failed: %v", err)
	}

	results, err := h.ReadFileRecords(ctx, 1, modbus.FileRequest{
		FileNumber:   1,
		RecordNumber: 100,
		RecordCount:  1,
	})
	if err != nil {
		t.Fatalf("ReadFileRecords failed: %v", err)
	}
	if results[0][0] != 0xCAFE {
		t.Errorf("record = %#04x, want 0xcafe", results[0][0])
	}
}
