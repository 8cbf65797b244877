// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// connState is the lifecycle state of a handle.
type connState int

const (
	stateIdle connState = iota
	stateSending
	stateWaiting
	stateDataReceived
	stateFailed
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSending:
		return "sending request"
	case stateWaiting:
		return "waiting for response"
	case stateDataReceived:
		return "data received"
	case stateFailed:
		return "transaction failed"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handle is one open link to a slave device. At most one request may be
// outstanding per handle at any time; concurrent calls are rejected with a
// handle-busy error rather than queued.
//
// Two flows touch a handle: the caller executing a request primitive, and a
// background delivery goroutine that receives bytes from the transport
// whenever they arrive and advances the state machine. The mutex guards the
// {state, buffers, transaction ids} group against both.
type Handle struct {
	// Logger, when set, receives a hex dump of every frame sent and
	// received on this handle.
	Logger *log.Logger

	master    *Master
	transport Transport
	framer    framer

	mu      sync.Mutex
	st      connState
	txnID   uint16 // outstanding transaction id (TCP-class transports)
	lastTxn uint16 // last successfully matched transaction id
	reasm   reassembler
	pduBuf  []byte     // most recently completed, validated PDU
	result  chan error // rendezvous with the blocked caller, one per request

	hangupOnce sync.Once
	hangup     chan struct{}
}

func newHandle(m *Master, t Transport, f framer) *Handle {
	h := &Handle{
		Logger:    m.Logger,
		master:    m,
		transport: t,
		framer:    f,
		st:        stateIdle,
		reasm:     newReassembler(f),
		hangup:    make(chan struct{}),
	}
	m.add(h)
	go h.receiveLoop()
	return h
}

// Close deregisters the handle and releases the transport and buffers. No
// request may be in flight; closing a handle with an outstanding request is
// undefined.
func (h *Handle) Close() error {
	h.master.remove(h)
	h.drop(ErrHandleClosed)
	return h.transport.Close()
}

// receiveLoop is the delivery flow: it blocks on the transport and feeds
// whatever arrives to the reassembler. It never blocks on the state machine;
// a full frame either completes in one pass or leaves state unchanged for the
// next arrival. Zero bytes or a read error mean the peer hung up.
func (h *Handle) receiveLoop() {
	buf := make([]byte, maxFrameSize)
	for {
		n, err := h.transport.Receive(buf)
		if n > 0 {
			h.deliver(buf[:n])
		}
		if err != nil {
			h.drop(err)
			return
		}
		if n == 0 {
			h.drop(ErrTransportClosed)
			return
		}
	}
}

// drop forces the sticky Disconnected state from any state and wakes a
// blocked caller. The handle stays disconnected until the transport is
// recreated through a fresh connect.
func (h *Handle) drop(reason error) {
	h.hangupOnce.Do(func() {
		h.mu.Lock()
		h.st = stateDisconnected
		h.reasm.reset()
		h.mu.Unlock()
		h.logf("modbus: connection lost: %v", reason)
		close(h.hangup)
	})
}

// deliver feeds one received chunk to the reassembler and advances the state
// machine when a complete, validated message comes out.
func (h *Handle) deliver(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.st != stateWaiting {
		h.logf("modbus: discarding %v bytes received while %v", len(p), h.st)
		h.reasm.reset()
		return
	}

	frames, err := h.reasm.feed(p)
	for i := range frames {
		if h.st != stateWaiting {
			// An earlier frame already completed the transaction.
			h.logf("modbus: discarding pipelined frame, no request pending")
			continue
		}
		f := &frames[i]
		if h.framer.correlates() {
			switch correlate(f.txnID, h.txnID, h.lastTxn) {
			case txnStale:
				h.logf("modbus: transaction id belongs to a request that has timed out, expect %#04x got %#04x; frame discarded, search continued", h.txnID, f.txnID)
				continue
			case txnFuture:
				h.logf("modbus: transaction id has not been requested yet, expect %#04x got %#04x; search failed", h.txnID, f.txnID)
				h.reasm.reset()
				h.complete(stateFailed, &ModbusError{ExceptionCode: ErrorCodeInvalidResponse})
				return
			}
			h.lastTxn = f.txnID
		}
		h.pduBuf = f.pdu
		h.complete(stateDataReceived, nil)
	}
	if err != nil && h.st != stateWaiting {
		h.logf("modbus: receive error with no request pending: %v", err)
		return
	}
	if err != nil {
		// Slaves answer once; a corrupted or malformed response means the
		// transaction cannot succeed, so it fails immediately rather than
		// running out the caller's deadline.
		h.logf("modbus: receive failed: %v", err)
		h.complete(stateFailed, &ModbusError{ExceptionCode: ErrorCodeInvalidResponse})
	}
}

// complete finishes the outstanding transaction. The caller must hold the
// mutex and the state must be stateWaiting, which guarantees the result
// channel has room for exactly this send.
func (h *Handle) complete(st connState, err error) {
	h.st = st
	h.result <- err
}

// transact runs the common send-then-wait skeleton: reject unless idle,
// encode, send, then block until the delivery flow signals completion, the
// context expires, or the transport hangs up. It returns the raw completed
// PDU bytes. cfgSize, when non-zero, fixes the expected response size for
// exchanges that do not carry Modbus PDUs.
func (h *Handle) transact(ctx context.Context, functionCode byte, encode func(txnID uint16) ([]byte, error), cfgSize int) ([]byte, error) {
	h.mu.Lock()
	switch h.st {
	case stateIdle:
	case stateDisconnected:
		h.mu.Unlock()
		return nil, &ModbusError{FunctionCode: functionCode, ExceptionCode: ErrorCodeDeviceDisconnected}
	default:
		h.mu.Unlock()
		return nil, &ModbusError{FunctionCode: functionCode, ExceptionCode: ErrorCodeHandleBusy}
	}
	h.st = stateSending

	var txnID uint16
	if h.framer.correlates() {
		txnID = h.master.nextTxnID()
		h.txnID = txnID
	}
	adu, err := encode(txnID)
	if err != nil {
		h.st = stateIdle
		h.mu.Unlock()
		return nil, err
	}
	h.reasm.reset()
	h.reasm.cfgSize = cfgSize
	h.pduBuf = nil
	result := make(chan error, 1)
	h.result = result
	h.st = stateWaiting
	h.mu.Unlock()

	h.logf("modbus: sending % x", adu)
	if err := h.transport.Send(adu); err != nil {
		h.logf("modbus: send failed: %v", err)
		h.finish()
		return nil, &ModbusError{FunctionCode: functionCode, ExceptionCode: ErrorCodeSendFailed}
	}

	select {
	case err := <-result:
		pdu := h.finish()
		if err != nil {
			if mbErr, ok := err.(*ModbusError); ok && mbErr.FunctionCode == 0 {
				mbErr.FunctionCode = functionCode
			}
			return nil, err
		}
		h.logf("modbus: received % x", pdu)
		return pdu, nil
	case <-ctx.Done():
		// The in-flight request is abandoned. A late response is rejected by
		// the correlator as stale, or discarded by the reassembler because no
		// request is pending.
		h.finish()
		return nil, &ModbusError{FunctionCode: functionCode, ExceptionCode: ErrorCodeTimeout}
	case <-h.hangup:
		return nil, &ModbusError{FunctionCode: functionCode, ExceptionCode: ErrorCodeDeviceDisconnected}
	}
}

// finish returns the handle to Idle after a transaction outcome, unless the
// transport hung up in the meantime, and hands back the completed PDU if one
// was delivered.
func (h *Handle) finish() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	pdu := h.pduBuf
	h.pduBuf = nil
	h.reasm.cfgSize = 0
	if h.st != stateDisconnected {
		h.st = stateIdle
	}
	return pdu
}

// send sends a request PDU and checks the response for exceptions and
// function-code echo before handing it back.
func (h *Handle) send(ctx context.Context, request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	raw, err := h.transact(ctx, request.FunctionCode, func(txnID uint16) ([]byte, error) {
		return h.framer.encode(txnID, request)
	}, 0)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: response of '%v' bytes is too short", ErrShortFrame, len(raw))
	}
	response := unmarshalPDU(raw)
	if response.isException() {
		exceptionCode := byte(0)
		if len(response.Data) > 0 {
			exceptionCode = response.Data[0]
		}
		return nil, &ModbusError{FunctionCode: response.FunctionCode &^ exceptionBit, ExceptionCode: exceptionCode}
	}
	if response.FunctionCode != request.FunctionCode {
		h.logf("modbus: wrong function code returned, expect '%v' got '%v'", request.FunctionCode, response.FunctionCode)
		return nil, &ModbusError{FunctionCode: request.FunctionCode, ExceptionCode: ErrorCodeInvalidResponse}
	}
	return response, nil
}

// configure performs the serial configuration exchange with the real-time
// transmitter on the other side of an intercore link. The handle is unusable
// until the transmitter acknowledges the line parameters.
func (h *Handle) configure(ctx context.Context, setup SerialSetup) error {
	msg := encodeSerialConfig(setup)
	status, err := h.transact(ctx, 0, func(uint16) ([]byte, error) {
		return msg, nil
	}, serialConfigResponseSize)
	if err != nil {
		return fmt.Errorf("configuring serial line: %w", err)
	}
	if len(status) < serialConfigResponseSize || status[0] != 0 {
		return fmt.Errorf("%w: serial configuration rejected by transmitter", ErrInvalidResponse)
	}
	return nil
}

func (h *Handle) logf(format string, v ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, v...)
	}
}

// state returns the current lifecycle state. Used by tests.
func (h *Handle) state() connState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.st
}
