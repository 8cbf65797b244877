// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import "errors"

var (
	// ErrInvalidQuantity is returned when a request quantity is outside the
	// range the function code allows.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")

	// ErrInvalidData is returned when request data cannot be encoded.
	ErrInvalidData = errors.New("modbus: invalid data")

	// ErrInvalidResponse is returned when a response is structurally valid
	// but does not match the request.
	ErrInvalidResponse = errors.New("modbus: invalid response")

	// ErrProtocolError is returned when a frame violates the transport
	// protocol (bad CRC, bad transaction ordering).
	ErrProtocolError = errors.New("modbus: protocol error")

	// ErrShortFrame is returned when a frame is too short to interpret.
	ErrShortFrame = errors.New("modbus: short frame")

	// ErrBufferOverflow is returned when accumulated bytes exceed the largest
	// possible frame; the accumulation buffer is discarded to resynchronize.
	ErrBufferOverflow = errors.New("modbus: receive buffer overflow")

	// ErrUnsupportedFunction is returned when a frame carries a function code
	// outside the response length table. The accumulation buffer is discarded
	// because the frame boundary can no longer be trusted.
	ErrUnsupportedFunction = errors.New("modbus: unsupported function code")

	// ErrHandleClosed is returned when an operation is attempted on a handle
	// that has been closed.
	ErrHandleClosed = errors.New("modbus: handle closed")

	// ErrTransportClosed is the disconnect reason recorded when the peer
	// closes the connection gracefully.
	ErrTransportClosed = errors.New("modbus: transport closed by peer")
)
