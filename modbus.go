// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

// Package modbus implements the Modbus application protocol for a master
// coordinating many slave devices. A request can travel over Modbus/TCP,
// Modbus RTU carried inside a TCP stream, or Modbus RTU carried over an
// inter-processor link to a real-time serial transmitter; framing, checksums
// and transaction bookkeeping are hidden behind a small set of read/write
// primitives on a connection handle.
package modbus

import "fmt"

// Modbus function codes supported by this library.
const (
	FuncCodeReadCoils              = 1
	FuncCodeReadDiscreteInputs     = 2
	FuncCodeReadHoldingRegisters   = 3
	FuncCodeReadInputRegisters     = 4
	FuncCodeWriteSingleCoil        = 5
	FuncCodeWriteSingleRegister    = 6
	FuncCodeReadExceptionStatus    = 7
	FuncCodeWriteMultipleCoils     = 15
	FuncCodeWriteMultipleRegisters = 16
	FuncCodeReadFileRecord         = 20
	FuncCodeWriteFileRecord        = 21
)

// Standard Modbus exception codes.
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeNegativeAcknowledge                = 7
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// Implementation-specific error codes, outside the standard exception range.
const (
	ErrorCodeTimeout            = 20
	ErrorCodeSendFailed         = 21
	ErrorCodeHandleBusy         = 22
	ErrorCodeInvalidResponse    = 23
	ErrorCodeDeviceDisconnected = 24
)

// exceptionBit is set in the function code of an exception response.
const exceptionBit = 0x80

const (
	// pduHeaderSize covers slave id, function code and the first data byte,
	// which is a byte count for the variable-length responses.
	pduHeaderSize = 3
	// exceptionSize is the PDU size of any exception response: slave id,
	// function code with the exception bit set, and the exception code.
	exceptionSize = 3
	// maxPDUSize bounds a PDU to slave id + function code + 252 data bytes,
	// the Modbus specification limit.
	maxPDUSize  = 254
	maxDataSize = maxPDUSize - 2
	// maxFrameSize is maxPDUSize plus the largest transport header
	// (6 bytes for TCP).
	maxFrameSize = maxPDUSize + tcpHeaderSize
)

// ProtocolDataUnit is a Modbus request or response independent of the
// transport it travels over. The slave id is carried here rather than in the
// framing because every transport places it at the front of the framed body.
type ProtocolDataUnit struct {
	SlaveID      byte
	FunctionCode byte
	Data         []byte
}

// size returns the number of bytes the PDU occupies on the wire.
func (pdu *ProtocolDataUnit) size() int {
	return 2 + len(pdu.Data)
}

// marshal writes the PDU into b, which must be at least pdu.size() bytes.
func (pdu *ProtocolDataUnit) marshal(b []byte) {
	b[0] = pdu.SlaveID
	b[1] = pdu.FunctionCode
	copy(b[2:], pdu.Data)
}

// unmarshalPDU copies a raw PDU out of a reassembled frame. The data slice is
// owned by the returned PDU.
func unmarshalPDU(b []byte) *ProtocolDataUnit {
	data := make([]byte, len(b)-2)
	copy(data, b[2:])
	return &ProtocolDataUnit{
		SlaveID:      b[0],
		FunctionCode: b[1],
		Data:         data,
	}
}

// isException reports whether the PDU is an exception response.
func (pdu *ProtocolDataUnit) isException() bool {
	return pdu.FunctionCode&exceptionBit != 0
}

// ModbusError carries the error code of a failed transaction: either a
// standard exception code returned by the slave, or one of the
// implementation-specific codes raised locally.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Error implements the error interface.
func (e *ModbusError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "slave device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "slave device busy"
	case ExceptionCodeNegativeAcknowledge:
		name = "negative acknowledge"
	case ExceptionCodeMemoryParityError:
		name = "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		name = "gateway target device failed to respond"
	case ErrorCodeTimeout:
		name = "timeout - slave device failed to respond"
	case ErrorCodeSendFailed:
		name = "message has failed to send"
	case ErrorCodeHandleBusy:
		name = "handle in use"
	case ErrorCodeInvalidResponse:
		name = "invalid response from device"
	case ErrorCodeDeviceDisconnected:
		name = "device disconnected - reconnect required"
	default:
		name = "unknown exception"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode)
}
