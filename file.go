// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// fileReferenceType is the only reference type the file record functions
// define. Devices must reject anything else.
const fileReferenceType = 6

// fileRecordLimit bounds record addressing: recordNumber plus recordCount
// must stay below it. Out-of-range requests are rejected locally, before
// anything is sent on the wire.
const fileRecordLimit = 10000

const fileSubRequestSize = 7

// fileMaxRecordCount bounds the record count of one sub-request: the wire
// field is a single byte, and a write sub-request of 7 header bytes plus two
// bytes per record must fit the 251 data bytes left after the count byte.
const fileMaxRecordCount = 122

// FileRequest addresses a run of records within one file for reading.
type FileRequest struct {
	FileNumber   uint16
	RecordNumber uint16
	RecordCount  uint16
}

// FileWriteRequest addresses a run of records within one file and carries
// the register values to store there.
type FileWriteRequest struct {
	FileNumber   uint16
	RecordNumber uint16
	Records      []uint16
}

func checkFileRange(functionCode byte, recordNumber, recordCount uint16) error {
	if recordCount < 1 || recordCount > fileMaxRecordCount {
		return fmt.Errorf("%w: record count '%v' must be between '%v' and '%v'", ErrInvalidQuantity, recordCount, 1, fileMaxRecordCount)
	}
	if int(recordNumber)+int(recordCount) >= fileRecordLimit {
		return &ModbusError{FunctionCode: functionCode, ExceptionCode: ExceptionCodeIllegalDataAddress}
	}
	return nil
}

func appendFileSubRequest(data []byte, fileNumber, recordNumber, recordCount uint16) []byte {
	var sub [fileSubRequestSize]byte
	sub[0] = fileReferenceType
	binary.BigEndian.PutUint16(sub[1:], fileNumber)
	binary.BigEndian.PutUint16(sub[3:], recordNumber)
	sub[5] = 0
	sub[6] = byte(recordCount)
	return append(data, sub[:]...)
}

// ReadFileRecords reads one or more runs of file records from the slave. The
// results are returned in request order, one register slice per request.
func (h *Handle) ReadFileRecords(ctx context.Context, slaveID byte, requests ...FileRequest) ([][]uint16, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: at least one file request is required", ErrInvalidQuantity)
	}
	data := make([]byte, 1, 1+len(requests)*fileSubRequestSize)
	for _, req := range requests {
		if err := checkFileRange(FuncCodeReadFileRecord, req.RecordNumber, req.RecordCount); err != nil {
			return nil, err
		}
		data = appendFileSubRequest(data, req.FileNumber, req.RecordNumber, req.RecordCount)
	}
	data[0] = byte(len(data) - 1)

	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeReadFileRecord,
		Data:         data,
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return nil, err
	}
	payload, err := checkByteCount(response, -1)
	if err != nil {
		return nil, err
	}

	results := make([][]uint16, 0, len(requests))
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: truncated file sub-response", ErrShortFrame)
		}
		// The length byte counts the record data only; the reference type
		// byte that follows it is carried separately.
		subLen := int(payload[0])
		if payload[1] != fileReferenceType {
			return nil, fmt.Errorf("%w: file reference type '%v' is not '%v'", ErrInvalidResponse, payload[1], fileReferenceType)
		}
		if subLen%2 != 0 || len(payload) < 2+subLen {
			return nil, fmt.Errorf("%w: file sub-response length '%v' exceeds remaining data '%v'", ErrInvalidResponse, subLen, len(payload)-2)
		}
		results = append(results, registersFrom(payload[2:2+subLen]))
		payload = payload[2+subLen:]
	}
	if len(results) != len(requests) {
		return nil, fmt.Errorf("%w: '%v' file sub-responses do not match '%v' requests", ErrInvalidResponse, len(results), len(requests))
	}
	return results, nil
}

// WriteFileRecords writes one or more runs of file records to the slave. The
// device echoes the full request on success and the echo is verified.
func (h *Handle) WriteFileRecords(ctx context.Context, slaveID byte, requests ...FileWriteRequest) error {
	if len(requests) == 0 {
		return fmt.Errorf("%w: at least one file request is required", ErrInvalidQuantity)
	}
	data := []byte{0}
	for _, req := range requests {
		count := uint16(len(req.Records))
		if err := checkFileRange(FuncCodeWriteFileRecord, req.RecordNumber, count); err != nil {
			return err
		}
		data = appendFileSubRequest(data, req.FileNumber, req.RecordNumber, count)
		data = append(data, dataBlock(req.Records...)...)
	}
	if len(data)-1 > maxDataSize-1 {
		return fmt.Errorf("%w: file write request of '%v' bytes exceeds maximum '%v'", ErrInvalidData, len(data)-1, maxDataSize-1)
	}
	data[0] = byte(len(data) - 1)

	request := &ProtocolDataUnit{
		SlaveID:      slaveID,
		FunctionCode: FuncCodeWriteFileRecord,
		Data:         data,
	}
	response, err := h.send(ctx, request)
	if err != nil {
		return err
	}
	if !bytes.Equal(response.Data, data) {
		return fmt.Errorf("%w: file write response does not echo the request", ErrInvalidResponse)
	}
	return nil
}
