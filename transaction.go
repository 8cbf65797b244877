// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

// txnVerdict classifies an inbound transaction id against the outstanding
// request.
type txnVerdict int

const (
	// txnAccept means the id matches the outstanding request.
	txnAccept txnVerdict = iota
	// txnStale means the id belongs to a request that already timed out; the
	// frame is dropped and the wait continues.
	txnStale
	// txnFuture means the id belongs to no request ever sent. Protocol
	// ordering has been violated and resynchronization cannot be trusted, so
	// the transaction fails hard.
	txnFuture
)

// correlate matches an inbound transaction id against the outstanding one.
// The 16-bit counter wraps, so "between" is evaluated modulo 65536: an id
// strictly inside the window (lastGood, expected) is stale, anything outside
// it is from the future.
func correlate(rx, expected, lastGood uint16) txnVerdict {
	if rx == expected {
		return txnAccept
	}
	if lastGood < expected {
		// No wraparound between the last matched id and the outstanding one.
		if rx > lastGood && rx < expected {
			return txnStale
		}
		return txnFuture
	}
	// The counter wrapped: the window runs past 65535 back to zero.
	if rx > lastGood || rx < expected {
		return txnStale
	}
	return txnFuture
}
