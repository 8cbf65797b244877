// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package testutil

import (
	"io"
	"log"
	"testing"

	"github.com/bsquare-corp/modbus-sphere-library/internal/simulator"
)

// SimulatorOption configures a simulated slave before it starts.
type SimulatorOption func(*simulatorConfig)

type simulatorConfig struct {
	slaveID   byte
	baudRate  int
	dataStore *simulator.DataStoreConfig
}

// WithSlaveID sets the slave ID a serial simulator answers to.
func WithSlaveID(id byte) SimulatorOption {
	return func(c *simulatorConfig) {
		c.slaveID = id
	}
}

// WithBaudRate sets the baud rate used for serial inter-frame delays.
func WithBaudRate(rate int) SimulatorOption {
	return func(c *simulatorConfig) {
		c.baudRate = rate
	}
}

// WithDataStoreConfig sets initial data values for the simulator.
func WithDataStoreConfig(config *simulator.DataStoreConfig) SimulatorOption {
	return func(c *simulatorConfig) {
		c.dataStore = config
	}
}

func applyOptions(opts []SimulatorOption) *simulatorConfig {
	config := &simulatorConfig{
		slaveID:  1,
		baudRate: 19200,
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// StartTCPSimulator starts an in-process Modbus/TCP slave for testing and
// returns its address and a cleanup function to defer.
func StartTCPSimulator(t *testing.T, opts ...SimulatorOption) (address string, cleanup func()) {
	return startTCPSimulator(t, simulator.FramingTCP, opts)
}

// StartRTUOverTCPSimulator starts an in-process slave that speaks raw RTU
// frames over a TCP stream, the way a serial-to-TCP bridge does.
func StartRTUOverTCPSimulator(t *testing.T, opts ...SimulatorOption) (address string, cleanup func()) {
	return startTCPSimulator(t, simulator.FramingRTU, opts)
}

func startTCPSimulator(t *testing.T, framing simulator.Framing, opts []SimulatorOption) (string, func()) {
	t.Helper()

	config := applyOptions(opts)
	ds := simulator.NewDataStore(config.dataStore)
	fs := simulator.NewFileStore()

	server, err := simulator.NewTCPServer(ds, fs, &simulator.TCPServerConfig{
		Address: "localhost:0",
		Framing: framing,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create TCP simulator: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start TCP simulator: %v", err)
	}

	cleanup := func() {
		if err := server.Stop(); err != nil {
			t.Errorf("failed to stop TCP simulator: %v", err)
		}
	}
	return server.Address(), cleanup
}

// StartSerialSimulator starts an in-process Modbus RTU slave on a
// pseudo-terminal pair and returns the device path clients should open.
func StartSerialSimulator(t *testing.T, opts ...SimulatorOption) (devicePath string, cleanup func()) {
	t.Helper()

	config := applyOptions(opts)
	ds := simulator.NewDataStore(config.dataStore)
	fs := simulator.NewFileStore()

	server, err := simulator.NewSerialServer(ds, fs, &simulator.SerialServerConfig{
		SlaveID:  config.slaveID,
		BaudRate: config.baudRate,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create serial simulator: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start serial simulator: %v", err)
	}

	cleanup = func() {
		if err := server.Stop(); err != nil {
			t.Errorf("failed to stop serial simulator: %v", err)
		}
	}
	return server.ClientDevicePath(), cleanup
}
