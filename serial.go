// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package modbus

import (
	"fmt"

	"go.bug.st/serial"
)

// StopBits is the number of stop bits on a serial line.
type StopBits int

// Supported stop bit settings.
const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// Parity is the parity mode of a serial line.
type Parity int

// Supported parity settings.
const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// SerialConfig holds the line parameters for a directly attached serial port.
type SerialConfig struct {
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
}

// toSerialStopBits converts modbus StopBits to serial library StopBits.
func toSerialStopBits(sb StopBits) serial.StopBits {
	switch sb {
	case TwoStopBits:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// toSerialParity converts modbus Parity to serial library Parity.
func toSerialParity(p Parity) serial.Parity {
	switch p {
	case NoParity:
		return serial.NoParity
	case OddParity:
		return serial.OddParity
	default:
		return serial.EvenParity
	}
}

// openSerial opens a serial port with the given line parameters and wraps it
// in a Transport. The port is left in blocking-read mode so the delivery flow
// receives bytes as they arrive.
func openSerial(address string, config SerialConfig) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: toSerialStopBits(config.StopBits),
		Parity:   toSerialParity(config.Parity),
	}
	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", address, err)
	}
	return NewStreamTransport(port), nil
}

// SerialSetup describes the line parameters forwarded to the real-time
// serial transmitter during the intercore configuration exchange. BaudRate is
// the divisor the transmitter expects, one of the BaudSet constants.
type SerialSetup struct {
	BaudRate   uint16
	HalfDuplex bool
	ParityOn   bool
	ParityEven bool
	StopBits   byte
	WordLength byte
}

// Baud rate divisors understood by the remote transmitter.
const (
	BaudSet300    = 384
	BaudSet600    = 192
	BaudSet1200   = 96
	BaudSet2400   = 48
	BaudSet4800   = 24
	BaudSet9600   = 12
	BaudSet14400  = 8
	BaudSet19200  = 6
	BaudSet38400  = 3
	BaudSet57600  = 2
	BaudSet115200 = 1
)

// Field offsets within the serial configuration message body.
const (
	cfgBaudRateUpper = 0
	cfgBaudRateLower = 1
	cfgDuplexMode    = 2
	cfgParityState   = 3
	cfgParityMode    = 4
	cfgStopBits      = 5
	cfgWordLength    = 6

	serialConfigSize = 7
	// serialConfigResponseSize is the single status byte returned by the
	// transmitter; zero means the configuration was applied.
	serialConfigResponseSize = 1
)

// encodeSerialConfig frames the configuration message for the intercore
// link. It carries the UART protocol tag instead of the Modbus one, so the
// remote transmitter applies it to the line rather than forwarding it.
func encodeSerialConfig(setup SerialSetup) []byte {
	msg := make([]byte, intercoreHeaderSize+serialConfigSize)
	msg[0] = intercoreProtocolUART
	msg[1] = intercoreCommandConfig
	msg[2] = intercoreHeaderSize

	body := msg[intercoreHeaderSize:]
	body[cfgBaudRateUpper] = byte(setup.BaudRate >> 8)
	body[cfgBaudRateLower] = byte(setup.BaudRate)
	if setup.HalfDuplex {
		body[cfgDuplexMode] = 1
	}
	if setup.ParityOn {
		body[cfgParityState] = 1
	}
	if setup.ParityEven {
		body[cfgParityMode] = 1
	}
	body[cfgStopBits] = setup.StopBits
	body[cfgWordLength] = setup.WordLength
	return msg
}
