// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"sync"
)

// Maximum address space for each data type.
const maxAddress = 65536

// DataStore is the in-memory storage backing a simulated slave. It maintains
// four address spaces plus the device exception status byte:
// - Coils: read/write single bits (function codes 1, 5, 15)
// - Discrete Inputs: read-only single bits (function code 2)
// - Holding Registers: read/write 16-bit registers (function codes 3, 6, 16)
// - Input Registers: read-only 16-bit registers (function code 4)
type DataStore struct {
	mu sync.RWMutex

	coils           []bool
	discreteInputs  []bool
	holdingRegs     []uint16
	inputRegs       []uint16
	exceptionStatus byte
}

// DataStoreConfig allows configuring initial values for the data store.
type DataStoreConfig struct {
	// Initial values for each data type. If nil, defaults to zeros.
	Coils          map[uint16]bool
	DiscreteInputs map[uint16]bool
	HoldingRegs    map[uint16]uint16
	InputRegs      map[uint16]uint16

	ExceptionStatus byte
}

// NewDataStore creates a new DataStore with optional initial configuration.
func NewDataStore(config *DataStoreConfig) *DataStore {
	ds := &DataStore{
		coils:          make([]bool, maxAddress),
		discreteInputs: make([]bool, maxAddress),
		holdingRegs:    make([]uint16, maxAddress),
		inputRegs:      make([]uint16, maxAddress),
	}

	if config != nil {
		for addr, val := range config.Coils {
			ds.coils[addr] = val
		}
		for addr, val := range config.DiscreteInputs {
			ds.discreteInputs[addr] = val
		}
		for addr, val := range config.HoldingRegs {
			ds.holdingRegs[addr] = val
		}
		for addr, val := range config.InputRegs {
			ds.inputRegs[addr] = val
		}
		ds.exceptionStatus = config.ExceptionStatus
	}

	return ds
}

// ReadCoils reads quantity coils starting at address.
func (ds *DataStore) ReadCoils(address, quantity uint16) ([]bool, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]bool, quantity)
	copy(result, ds.coils[address:])
	return result, nil
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (ds *DataStore) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]bool, quantity)
	copy(result, ds.discreteInputs[address:])
	return result, nil
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (ds *DataStore) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]uint16, quantity)
	copy(result, ds.holdingRegs[address:])
	return result, nil
}

// ReadInputRegisters reads quantity input registers starting at address.
func (ds *DataStore) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]uint16, quantity)
	copy(result, ds.inputRegs[address:])
	return result, nil
}

// ReadExceptionStatus returns the device exception status byte.
func (ds *DataStore) ReadExceptionStatus() byte {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.exceptionStatus
}

// SetExceptionStatus sets the device exception status byte.
func (ds *DataStore) SetExceptionStatus(status byte) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.exceptionStatus = status
}

// WriteSingleCoil writes a single coil at address.
func (ds *DataStore) WriteSingleCoil(address uint16, value bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.coils[address] = value
	return nil
}

// WriteMultipleCoils writes multiple coils starting at address.
func (ds *DataStore) WriteMultipleCoils(address uint16, values []bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}

	copy(ds.coils[address:], values)
	return nil
}

// WriteSingleRegister writes a single holding register at address.
func (ds *DataStore) WriteSingleRegister(address, value uint16) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.holdingRegs[address] = value
	return nil
}

// WriteMultipleRegisters writes multiple holding registers starting at address.
func (ds *DataStore) WriteMultipleRegisters(address uint16, values []uint16) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}

	copy(ds.holdingRegs[address:], values)
	return nil
}

// validateRange checks if address + quantity is within bounds.
func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	if uint32(address)+uint32(quantity) > maxAddress {
		return fmt.Errorf("address range %d-%d exceeds maximum", address, uint32(address)+uint32(quantity)-1)
	}
	return nil
}
