// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// frame is one complete, validated message lifted out of the byte stream.
type frame struct {
	// pdu holds the message with the transport header and footer stripped.
	pdu []byte
	// txnID is the raw transaction id from the transport header; only
	// meaningful on transports that correlate.
	txnID uint16
}

// reassembler accumulates arbitrarily sized chunks from a transport until a
// complete framed message is present. Chunk boundaries may split headers and
// CRC footers anywhere, and one chunk may carry the tail of one message and
// the head of the next.
type reassembler struct {
	hdr      int
	ftr      int
	checkCRC bool
	// cfgSize, when non-zero, fixes the expected PDU size instead of deriving
	// it from the function-code table. Used for the serial configuration
	// exchange, whose response is not a Modbus PDU.
	cfgSize int

	buf [maxFrameSize]byte
	n   int
}

func newReassembler(f framer) reassembler {
	return reassembler{
		hdr:      f.headerSize(),
		ftr:      f.footerSize(),
		checkCRC: f.checksums(),
	}
}

// reset discards all accumulated bytes.
func (r *reassembler) reset() {
	r.n = 0
}

// feed appends a chunk and extracts every complete message it can. Frames
// completed before an error are still returned alongside it. A nil error with
// no frames means more bytes are needed.
//
// ErrBufferOverflow and ErrUnsupportedFunction discard the whole buffer: an
// oversized or unknown frame cannot be trusted to end where the table says,
// so resynchronization on fresh bytes is the only safe recovery. A CRC
// mismatch discards exactly the rejected frame and keeps any surplus.
func (r *reassembler) feed(p []byte) ([]frame, error) {
	if total := r.n + len(p); total > len(r.buf) {
		r.n = 0
		return nil, fmt.Errorf("%w: '%v' bytes exceed the '%v' byte frame buffer", ErrBufferOverflow, total, len(r.buf))
	}
	copy(r.buf[r.n:], p)
	r.n += len(p)

	var frames []frame
	for {
		f, err := r.next()
		if err != nil {
			return frames, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, *f)
	}
}

// next extracts one complete message from the front of the buffer, or returns
// nil when the buffer does not yet hold one.
func (r *reassembler) next() (*frame, error) {
	var size int
	if r.cfgSize > 0 {
		size = r.cfgSize
	} else {
		if r.n < r.hdr+pduHeaderSize {
			return nil, nil
		}
		functionCode := r.buf[r.hdr+1]
		countByte := r.buf[r.hdr+2]
		var ok bool
		size, ok = pduSize(functionCode, countByte)
		if !ok {
			r.n = 0
			return nil, fmt.Errorf("%w: '%v'", ErrUnsupportedFunction, functionCode)
		}
		if size > maxPDUSize {
			r.n = 0
			return nil, fmt.Errorf("%w: declared PDU of '%v' bytes exceeds maximum '%v'", ErrBufferOverflow, size, maxPDUSize)
		}
	}
	total := r.hdr + size + r.ftr
	if r.n < total {
		return nil, nil
	}

	if r.checkCRC && !ValidateCRC(r.buf[:total]) {
		r.discard(total)
		return nil, fmt.Errorf("%w: response CRC does not match", ErrProtocolError)
	}

	var txnID uint16
	if r.hdr >= 2 {
		txnID = binary.BigEndian.Uint16(r.buf[:2])
	}
	pdu := make([]byte, size)
	copy(pdu, r.buf[r.hdr:r.hdr+size])
	r.discard(total)
	return &frame{pdu: pdu, txnID: txnID}, nil
}

// discard drops the first total bytes, shifting any surplus belonging to a
// following message to the front of the buffer.
func (r *reassembler) discard(total int) {
	copy(r.buf[:], r.buf[total:r.n])
	r.n -= total
}
