// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
)

// dataBlock creates a sequence of uint16 data in big-endian order.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// dataBlockSuffix creates a sequence of uint16 data in big-endian order and
// appends the suffix prefixed with its byte count.
func dataBlockSuffix(suffix []byte, value ...uint16) []byte {
	length := 2 * len(value)
	data := make([]byte, length+1+len(suffix))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	data[length] = uint8(len(suffix))
	copy(data[length+1:], suffix)
	return data
}

// registersFrom decodes a big-endian register payload.
func registersFrom(data []byte) []uint16 {
	regs := make([]uint16, len(data)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return regs
}

// checkByteCount verifies the count byte leading a read response and returns
// the payload it describes.
func checkByteCount(response *ProtocolDataUnit, want int) ([]byte, error) {
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("%w: response data is empty", ErrShortFrame)
	}
	count := int(response.Data[0])
	if count != len(response.Data)-1 {
		return nil, fmt.Errorf("%w: response byte count '%v' does not match data size '%v'", ErrInvalidResponse, count, len(response.Data)-1)
	}
	if want >= 0 && count != want {
		return nil, fmt.Errorf("%w: response byte count '%v' does not match request quantity, expect '%v'", ErrInvalidResponse, count, want)
	}
	return response.Data[1:], nil
}

// checkEcho verifies the address/value echo that single and multiple write
// responses carry.
func checkEcho(response *ProtocolDataUnit, address, value uint16) error {
	if len(response.Data) != 4 {
		return fmt.Errorf("%w: response data size '%v' does not match expected '%v'", ErrInvalidResponse, len(response.Data), 4)
	}
	respAddress := binary.BigEndian.Uint16(response.Data)
	if respAddress != address {
		return fmt.Errorf("%w: response address '%v' does not match request '%v'", ErrInvalidResponse, respAddress, address)
	}
	respValue := binary.BigEndian.Uint16(response.Data[2:])
	if respValue != value {
		return fmt.Errorf("%w: response value '%v' does not match request '%v'", ErrInvalidResponse, respValue, value)
	}
	return nil
}

// ReadCoils reads from 1 to 2000 contiguous coils of the slave and returns
// the coil status packed one bit per coil, LSB of the first byte first.
func (h *Handle) ReadCoils(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, 2000)
	}
	return h.readBits(ctx, slaveID, FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs reads from 1 to 2000 contiguous discrete inputs of the
// slave and returns the input status packed one bit per input.
func (h *Handle) ReadDiscreteInputs(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, 2000)
	}
	return h.readBits(ctx, slaveID, FuncCodeReadDiscreteInputs, address, quantity)
}

func (h *Handle) readBits(ctx context.Context, slaveID, functionCode byte, address, quantity uint16) ([]byte, error) {
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: functionCode,
		Data:         dataBlock(address, quantity),
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return nil, err
	}
	return checkByteCount(response, int(quantity+7)/8)
}

// ReadHoldingRegisters reads from 1 to 125 contiguous holding registers of
// the slave.
func (h *Handle) ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, 125)
	}
	return h.readRegisters(ctx, slaveID, FuncCodeReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters reads from 1 to 125 contiguous input registers of the
// slave.
func (h *Handle) ReadInputRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, 125)
	}
	return h.readRegisters(ctx, slaveID, FuncCodeReadInputRegisters, address, quantity)
}

func (h *Handle) readRegisters(ctx context.Context, slaveID, functionCode byte, address, quantity uint16) ([]uint16, error) {
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: functionCode,
		Data:         dataBlock(address, quantity),
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return nil, err
	}
	data, err := checkByteCount(response, int(quantity)*2)
	if err != nil {
		return nil, err
	}
	return registersFrom(data), nil
}

// ReadExceptionStatus reads the eight exception status outputs of the slave.
// The meaning of the bits is device specific.
func (h *Handle) ReadExceptionStatus(ctx context.Context, slaveID byte) (byte, error) {
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeReadExceptionStatus,
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return 0, err
	}
	if len(response.Data) != 1 {
		return 0, fmt.Errorf("%w: response data size '%v' does not match expected '%v'", ErrInvalidResponse, len(response.Data), 1)
	}
	return response.Data[0], nil
}

// WriteSingleCoil writes a single coil of the slave to ON or OFF.
func (h *Handle) WriteSingleCoil(ctx context.Context, slaveID byte, address uint16, on bool) error {
	var value uint16
	if on {
		value = 0xFF00
	}
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeWriteSingleCoil,
		Data:         dataBlock(address, value),
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return err
	}
	return checkEcho(response, address, value)
}

// WriteSingleRegister writes a single holding register of the slave.
func (h *Handle) WriteSingleRegister(ctx context.Context, slaveID byte, address, value uint16) error {
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeWriteSingleRegister,
		Data:         dataBlock(address, value),
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return err
	}
	return checkEcho(response, address, value)
}

// WriteMultipleCoils writes from 1 to 1968 contiguous coils of the slave.
// values packs one bit per coil, LSB of the first byte first, and must hold
// at least (quantity+7)/8 bytes.
func (h *Handle) WriteMultipleCoils(ctx context.Context, slaveID byte, address, quantity uint16, values []byte) error {
	if quantity < 1 || quantity > 1968 {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, 1968)
	}
	byteCount := int(quantity+7) / 8
	if len(values) < byteCount {
		return fmt.Errorf("%w: '%v' values do not cover quantity '%v'", ErrInvalidData, len(values), quantity)
	}
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeWriteMultipleCoils,
		Data:         dataBlockSuffix(values[:byteCount], address, quantity),
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return err
	}
	return checkEcho(response, address, quantity)
}

// WriteMultipleRegisters writes from 1 to 123 contiguous holding registers
// of the slave.
func (h *Handle) WriteMultipleRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16) error {
	quantity := uint16(len(values))
	if quantity < 1 || quantity > 123 {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, 123)
	}
	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeWriteMultipleRegisters,
		Data:         dataBlockSuffix(dataBlock(values...), address, quantity),
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return err
	}
	return checkEcho(response, address, quantity)
}
