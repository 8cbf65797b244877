// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import "testing"

func TestCorrelate(t *testing.T) {
	tests := []struct {
		name     string
		rx       uint16
		expected uint16
		lastGood uint16
		want     txnVerdict
	}{
		{
			name:     "exact match",
			rx:       100,
			expected: 100,
			lastGood: 90,
			want:     txnAccept,
		},
		{
			name:     "stale id inside the window",
			rx:       95,
			expected: 100,
			lastGood: 90,
			want:     txnStale,
		},
		{
			name:     "last good id itself is from the future",
			rx:       90,
			expected: 100,
			lastGood: 90,
			want:     txnFuture,
		},
		{
			name:     "id beyond the outstanding request",
			rx:       101,
			expected: 100,
			lastGood: 90,
			want:     txnFuture,
		},
		{
			name:     "id far behind the window",
			rx:       10,
			expected: 100,
			lastGood: 90,
			want:     txnFuture,
		},
		{
			name:     "match at the wrap point",
			rx:       0,
			expected: 0,
			lastGood: 65534,
			want:     txnAccept,
		},
		{
			name:     "stale across the wrap point",
			rx:       65535,
			expected: 0,
			lastGood: 65534,
			want:     txnStale,
		},
		{
			name:     "future just past the wrapped window",
			rx:       1,
			expected: 0,
			lastGood: 65534,
			want:     txnFuture,
		},
		{
			name:     "stale low side of a wrapped window",
			rx:       2,
			expected: 5,
			lastGood: 65000,
			want:     txnStale,
		},
		{
			name:     "stale high side of a wrapped window",
			rx:       65100,
			expected: 5,
			lastGood: 65000,
			want:     txnStale,
		},
		{
			name:     "future inside the dead zone of a wrapped window",
			rx:       30000,
			expected: 5,
			lastGood: 65000,
			want:     txnFuture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := correlate(tt.rx, tt.expected, tt.lastGood); got != tt.want {
				t.Errorf("correlate(%v, %v, %v) = %v, want %v", tt.rx, tt.expected, tt.lastGood, got, tt.want)
			}
		})
	}
}
