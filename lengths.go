// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

// lengthRule describes how the total PDU size of a response is derived from
// its function code.
type lengthRule int

const (
	// lengthUnsupported marks function codes outside the table.
	lengthUnsupported lengthRule = iota
	// lengthFixed means the PDU size is known from the function code alone.
	lengthFixed
	// lengthWithCount means the PDU size is pduHeaderSize plus the value of
	// the byte-count byte that follows the function code.
	lengthWithCount
)

// responseLength returns the sizing rule for a function code and, for
// lengthFixed, the PDU size in bytes. Exception responses are handled by
// pduSize before the table is consulted.
func responseLength(functionCode byte) (lengthRule, int) {
	switch functionCode {
	case FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadInputRegisters,
		FuncCodeReadFileRecord,
		FuncCodeWriteFileRecord:
		return lengthWithCount, 0
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteMultipleRegisters:
		// Address and value echo: slave id, function code, 2+2 data bytes.
		return lengthFixed, pduHeaderSize + 3
	case FuncCodeReadExceptionStatus:
		return lengthFixed, pduHeaderSize
	default:
		return lengthUnsupported, 0
	}
}

// pduSize returns the total number of PDU bytes a complete message with the
// given function code must contain. countByte is the byte at the byte-count
// offset, ignored when the size is fixed. ok is false when the function code
// is not in the table.
func pduSize(functionCode, countByte byte) (size int, ok bool) {
	if functionCode&exceptionBit != 0 {
		return exceptionSize, true
	}
	switch rule, n := responseLength(functionCode); rule {
	case lengthFixed:
		return n, true
	case lengthWithCount:
		return pduHeaderSize + int(countByte), true
	default:
		return 0, false
	}
}
