// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"strings"
	"testing"
)

func TestModbusErrorMessages(t *testing.T) {
	tests := []struct {
		exceptionCode byte
		wantName      string
	}{
		{ExceptionCodeIllegalFunction, "illegal function"},
		{ExceptionCodeIllegalDataAddress, "illegal data address"},
		{ExceptionCodeServerDeviceBusy, "slave device busy"},
		{ErrorCodeTimeout, "timeout"},
		{ErrorCodeSendFailed, "failed to send"},
		{ErrorCodeHandleBusy, "handle in use"},
		{ErrorCodeInvalidResponse, "invalid response"},
		{ErrorCodeDeviceDisconnected, "device disconnected"},
	}

	for _, tt := range tests {
		err := &ModbusError{FunctionCode: FuncCodeReadCoils, ExceptionCode: tt.exceptionCode}
		if msg := err.Error(); !strings.Contains(msg, tt.wantName) {
			t.Errorf("error for code %v = %q, want it to name %q", tt.exceptionCode, msg, tt.wantName)
		}
	}
}

func TestPDUMarshal(t *testing.T) {
	pdu := &ProtocolDataUnit{SlaveID: 0x11, FunctionCode: FuncCodeReadCoils, Data: []byte{0x00, 0x13}}

	buf := make([]byte, pdu.size())
	pdu.marshal(buf)
	want := []byte{0x11, FuncCodeReadCoils, 0x00, 0x13}
	if !bytes.Equal(buf, want) {
		t.Errorf("marshal = % x, want % x", buf, want)
	}
}

func TestUnmarshalPDUCopiesData(t *testing.T) {
	raw := []byte{0x11, FuncCodeReadCoils, 0x01, 0xCD}
	pdu := unmarshalPDU(raw)

	if pdu.SlaveID != 0x11 || pdu.FunctionCode != FuncCodeReadCoils {
		t.Fatalf("unmarshalPDU header = %v %v", pdu.SlaveID, pdu.FunctionCode)
	}

	raw[2] = 0xFF
	if pdu.Data[0] != 0x01 {
		t.Error("PDU data aliases the source buffer")
	}
}

func TestIsException(t *testing.T) {
	plain := &ProtocolDataUnit{FunctionCode: FuncCodeReadCoils}
	if plain.isException() {
		t.Error("plain response classified as exception")
	}
	exception := &ProtocolDataUnit{FunctionCode: FuncCodeReadCoils | exceptionBit}
	if !exception.isException() {
		t.Error("exception response not classified as exception")
	}
}
