// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import "fmt"

// crcFooterSize is the number of CRC bytes appended to an RTU frame.
const crcFooterSize = 2

// crcTable holds the 256 precomputed remainders for the reflected Modbus
// polynomial 0xA001.
var crcTable = makeCRCTable()

func makeCRCTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 computes the Modbus CRC16 of bs (polynomial 0xA001, initial value
// 0xFFFF).
func CRC16(bs []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range bs {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}

// ValidateCRC reports whether the trailing two bytes of frame hold the
// correct little-endian CRC16 of the preceding bytes.
func ValidateCRC(frame []byte) bool {
	if len(frame) < crcFooterSize+1 {
		return false
	}
	body := frame[:len(frame)-crcFooterSize]
	crc := CRC16(body)
	return frame[len(frame)-2] == byte(crc) && frame[len(frame)-1] == byte(crc>>8)
}

// AppendCRC appends the little-endian CRC16 of bs, failing if the result
// would exceed max bytes.
func AppendCRC(bs []byte, max int) ([]byte, error) {
	if len(bs)+crcFooterSize > max {
		return nil, fmt.Errorf("%w: frame of '%v' bytes cannot hold a CRC within '%v'", ErrInvalidData, len(bs), max)
	}
	crc := CRC16(bs)
	return append(bs, byte(crc), byte(crc>>8)), nil
}
