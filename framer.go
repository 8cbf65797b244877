// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

const (
	// tcpHeaderSize is the Modbus/TCP header: 2-byte transaction id, 2
	// reserved zero bytes, 2-byte big-endian byte count of the following PDU.
	tcpHeaderSize = 6

	// intercoreHeaderSize is the private header used on the link to the
	// real-time serial transmitter: protocol tag, command tag, header length,
	// reserved.
	intercoreHeaderSize = 4
)

// Protocol and command tags of the intercore header.
const (
	intercoreProtocolUART   = 1
	intercoreProtocolModbus = 2

	intercoreCommandData   = 1
	intercoreCommandConfig = 1 // config exchange uses the UART protocol tag
)

// framer wraps a PDU with per-transport framing and declares the properties
// the reassembler and correlator need.
type framer interface {
	// encode frames the PDU. txnID is used only by transports that
	// correlate.
	encode(txnID uint16, pdu *ProtocolDataUnit) ([]byte, error)
	// headerSize is the byte count stripped before interpreting a PDU.
	headerSize() int
	// footerSize is the byte count of trailing validation bytes.
	footerSize() int
	// correlates reports whether transaction-id correlation applies.
	correlates() bool
	// checksums reports whether a local CRC check applies to inbound frames.
	checksums() bool
}

// tcpFramer frames PDUs for Modbus/TCP.
type tcpFramer struct{}

func (tcpFramer) encode(txnID uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	size := pdu.size()
	if size > maxPDUSize {
		return nil, fmt.Errorf("%w: PDU of '%v' bytes exceeds maximum '%v'", ErrInvalidData, size, maxPDUSize)
	}
	adu := make([]byte, tcpHeaderSize+size)
	binary.BigEndian.PutUint16(adu, txnID)
	// adu[2:4] are reserved and stay zero.
	binary.BigEndian.PutUint16(adu[4:], uint16(size))
	pdu.marshal(adu[tcpHeaderSize:])
	return adu, nil
}

func (tcpFramer) headerSize() int  { return tcpHeaderSize }
func (tcpFramer) footerSize() int  { return 0 }
func (tcpFramer) correlates() bool { return true }
func (tcpFramer) checksums() bool  { return false }

// rtuFramer frames PDUs for RTU carried over a byte stream. The CRC is
// generated and validated locally.
type rtuFramer struct{}

func (rtuFramer) encode(_ uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	size := pdu.size()
	if size > maxPDUSize {
		return nil, fmt.Errorf("%w: PDU of '%v' bytes exceeds maximum '%v'", ErrInvalidData, size, maxPDUSize)
	}
	adu := make([]byte, size, size+crcFooterSize)
	pdu.marshal(adu)
	return AppendCRC(adu, size+crcFooterSize)
}

func (rtuFramer) headerSize() int  { return 0 }
func (rtuFramer) footerSize() int  { return crcFooterSize }
func (rtuFramer) correlates() bool { return false }
func (rtuFramer) checksums() bool  { return true }

// intercoreFramer frames PDUs for the link to the real-time serial
// transmitter. The remote endpoint appends the CRC on the way out and strips
// and validates it on the way in, so neither applies locally.
type intercoreFramer struct{}

func (intercoreFramer) encode(_ uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	size := pdu.size()
	if size > maxPDUSize {
		return nil, fmt.Errorf("%w: PDU of '%v' bytes exceeds maximum '%v'", ErrInvalidData, size, maxPDUSize)
	}
	adu := make([]byte, intercoreHeaderSize+size)
	adu[0] = intercoreProtocolModbus
	adu[1] = intercoreCommandData
	adu[2] = intercoreHeaderSize
	// adu[3] is reserved.
	pdu.marshal(adu[intercoreHeaderSize:])
	return adu, nil
}

func (intercoreFramer) headerSize() int  { return intercoreHeaderSize }
func (intercoreFramer) footerSize() int  { return 0 }
func (intercoreFramer) correlates() bool { return false }
func (intercoreFramer) checksums() bool  { return false }
