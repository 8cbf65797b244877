// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"

	modbus "github.com/bsquare-corp/modbus-sphere-library"
)

// fileReferenceType is the only reference type the file record functions
// accept.
const fileReferenceType = 6

// Handler processes Modbus function codes against the data and file stores.
type Handler struct {
	dataStore *DataStore
	fileStore *FileStore
}

// NewHandler creates a new Handler with the given stores. fileStore may be
// nil, in which case file record functions return an illegal-function
// exception.
func NewHandler(ds *DataStore, fs *FileStore) *Handler {
	return &Handler{dataStore: ds, fileStore: fs}
}

// HandleRequest processes a Modbus PDU request and returns a response PDU.
// A nil response means the request should be silently dropped (used to
// simulate unresponsive devices).
func (h *Handler) HandleRequest(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return h.handleReadCoils(req)
	case modbus.FuncCodeReadDiscreteInputs:
		return h.handleReadDiscreteInputs(req)
	case modbus.FuncCodeReadHoldingRegisters:
		return h.handleReadHoldingRegisters(req)
	case modbus.FuncCodeReadInputRegisters:
		return h.handleReadInputRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		return h.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return h.handleWriteSingleRegister(req)
	case modbus.FuncCodeReadExceptionStatus:
		return h.handleReadExceptionStatus(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return h.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return h.handleWriteMultipleRegisters(req)
	case modbus.FuncCodeReadFileRecord:
		return h.handleReadFileRecord(req)
	case modbus.FuncCodeWriteFileRecord:
		return h.handleWriteFileRecord(req)
	default:
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalFunction)
	}
}

func (h *Handler) handleReadCoils(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 2000 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	coils, err := h.dataStore.ReadCoils(address, quantity)
	if err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	return newResponse(req, boolsToBytes(coils))
}

func (h *Handler) handleReadDiscreteInputs(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 2000 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	inputs, err := h.dataStore.ReadDiscreteInputs(address, quantity)
	if err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	return newResponse(req, boolsToBytes(inputs))
}

func (h *Handler) handleReadHoldingRegisters(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 125 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	registers, err := h.dataStore.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	return newResponse(req, registersToBytes(registers))
}

func (h *Handler) handleReadInputRegisters(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 125 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	registers, err := h.dataStore.ReadInputRegisters(address, quantity)
	if err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	return newResponse(req, registersToBytes(registers))
}

func (h *Handler) handleReadExceptionStatus(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	return newResponse(req, []byte{h.dataStore.ReadExceptionStatus()})
}

func (h *Handler) handleWriteSingleCoil(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if value != 0x0000 && value != 0xFF00 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := h.dataStore.WriteSingleCoil(address, value == 0xFF00); err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	// Echo back the request
	return newResponse(req, req.Data)
}

func (h *Handler) handleWriteSingleRegister(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := h.dataStore.WriteSingleRegister(address, value); err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	// Echo back the request
	return newResponse(req, req.Data)
}

func (h *Handler) handleWriteMultipleCoils(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 1968 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}
	if uint16(byteCount) != (quantity+7)/8 || len(req.Data) < int(5+byteCount) {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	coils := bytesToBools(req.Data[5:5+byteCount], quantity)
	if err := h.dataStore.WriteMultipleCoils(address, coils); err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	// Response contains address and quantity
	response := make([]byte, 4)
	binary.BigEndian.PutUint16(response[0:2], address)
	binary.BigEndian.PutUint16(response[2:4], quantity)
	return newResponse(req, response)
}

func (h *Handler) handleWriteMultipleRegisters(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 123 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}
	if byteCount != byte(quantity*2) || len(req.Data) < int(5+byteCount) {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	registers := bytesToRegisters(req.Data[5 : 5+byteCount])
	if err := h.dataStore.WriteMultipleRegisters(address, registers); err != nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
	}

	// Response contains address and quantity
	response := make([]byte, 4)
	binary.BigEndian.PutUint16(response[0:2], address)
	binary.BigEndian.PutUint16(response[2:4], quantity)
	return newResponse(req, response)
}

// fileSubRequest is one decoded sub-request of a file record function.
type fileSubRequest struct {
	fileNumber   uint16
	recordNumber uint16
	recordCount  uint16
}

// decodeFileSubRequest decodes the 7-byte sub-request header starting at
// data[0]: reference type, file number, record number, record count.
func decodeFileSubRequest(data []byte) (fileSubRequest, bool) {
	if len(data) < 7 || data[0] != fileReferenceType {
		return fileSubRequest{}, false
	}
	return fileSubRequest{
		fileNumber:   binary.BigEndian.Uint16(data[1:3]),
		recordNumber: binary.BigEndian.Uint16(data[3:5]),
		recordCount:  binary.BigEndian.Uint16(data[5:7]),
	}, true
}

func (h *Handler) handleReadFileRecord(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if h.fileStore == nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalFunction)
	}
	if len(req.Data) < 1 || int(req.Data[0]) != len(req.Data)-1 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	response := []byte{0}
	remaining := req.Data[1:]
	for len(remaining) > 0 {
		sub, ok := decodeFileSubRequest(remaining)
		if !ok {
			return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
		}
		remaining = remaining[7:]

		records, err := h.fileStore.ReadRecords(sub.fileNumber, sub.recordNumber, sub.recordCount)
		if err != nil {
			return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
		}

		// Sub-response: record data length, reference type, record data.
		response = append(response, byte(2*len(records)), fileReferenceType)
		for _, rec := range records {
			response = append(response, byte(rec>>8), byte(rec))
		}
	}
	response[0] = byte(len(response) - 1)
	return newResponse(req, response)
}

func (h *Handler) handleWriteFileRecord(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if h.fileStore == nil {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalFunction)
	}
	if len(req.Data) < 1 || int(req.Data[0]) != len(req.Data)-1 {
		return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
	}

	remaining := req.Data[1:]
	for len(remaining) > 0 {
		sub, ok := decodeFileSubRequest(remaining)
		if !ok {
			return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
		}
		remaining = remaining[7:]

		dataLen := int(sub.recordCount) * 2
		if len(remaining) < dataLen {
			return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataValue)
		}
		records := bytesToRegisters(remaining[:dataLen])
		remaining = remaining[dataLen:]

		if err := h.fileStore.WriteRecords(sub.fileNumber, sub.recordNumber, records); err != nil {
			return newExceptionResponse(req, modbus.ExceptionCodeIllegalDataAddress)
		}
	}

	// Echo back the request
	return newResponse(req, req.Data)
}

// Helper functions

func newResponse(req *modbus.ProtocolDataUnit, data []byte) *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{
		SlaveID:      req.SlaveID,
		FunctionCode: req.FunctionCode,
		Data:         data,
	}
}

func newExceptionResponse(req *modbus.ProtocolDataUnit, exceptionCode byte) *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{
		SlaveID:      req.SlaveID,
		FunctionCode: req.FunctionCode | 0x80, // Set high bit for exception
		Data:         []byte{exceptionCode},
	}
}

// boolsToBytes converts a slice of bools to Modbus byte format.
// The byte count is prepended, and bits are packed LSB first.
func boolsToBytes(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	result := make([]byte, 1+byteCount)
	result[0] = byte(byteCount)

	for i, val := range values {
		if val {
			result[i/8+1] |= 1 << uint(i%8)
		}
	}
	return result
}

// bytesToBools converts Modbus byte format to a slice of bools.
// Expects packed bits LSB first, extracts quantity bits.
func bytesToBools(data []byte, quantity uint16) []bool {
	result := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		result[i] = (data[i/8] & (1 << uint(i%8))) != 0
	}
	return result
}

// registersToBytes converts a slice of uint16 registers to Modbus byte format.
// The byte count is prepended, and each register is encoded big-endian.
func registersToBytes(registers []uint16) []byte {
	result := make([]byte, 1+len(registers)*2)
	result[0] = byte(len(registers) * 2)

	for i, reg := range registers {
		binary.BigEndian.PutUint16(result[1+i*2:], reg)
	}
	return result
}

// bytesToRegisters converts Modbus byte format to a slice of uint16 registers.
// Each pair of bytes is decoded big-endian.
func bytesToRegisters(data []byte) []uint16 {
	result := make([]uint16, len(data)/2)
	for i := range result {
		result[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return result
}
