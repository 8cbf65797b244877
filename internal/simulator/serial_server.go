// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	modbus "github.com/bsquare-corp/modbus-sphere-library"
)

// SerialServer implements a Modbus RTU slave on one end of a pseudo-terminal
// pair. Clients open the other end as if it were a real serial port.
type SerialServer struct {
	handler  *Handler
	pty      *PtyPair
	slaveID  byte
	baudRate int
	logger   *log.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// SerialServerConfig holds configuration for the serial server.
type SerialServerConfig struct {
	SlaveID  byte
	BaudRate int
	Logger   *log.Logger
}

// NewSerialServer creates a new serial RTU server with the given stores and
// configuration.
func NewSerialServer(ds *DataStore, fs *FileStore, config *SerialServerConfig) (*SerialServer, error) {
	if config == nil {
		config = &SerialServerConfig{}
	}
	if config.SlaveID == 0 {
		config.SlaveID = 1
	}
	if config.BaudRate == 0 {
		config.BaudRate = 19200
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "serial-server: ", log.LstdFlags)
	}

	pty, err := CreatePtyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to create pty: %w", err)
	}

	return &SerialServer{
		handler:  NewHandler(ds, fs),
		pty:      pty,
		slaveID:  config.SlaveID,
		baudRate: config.BaudRate,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// ClientDevicePath returns the device path that clients should connect to.
func (s *SerialServer) ClientDevicePath() string {
	return s.pty.SlavePath
}

// Start starts the serial server in a goroutine.
func (s *SerialServer) Start() error {
	go s.serve()
	return nil
}

// Stop stops the serial server and waits for it to finish.
func (s *SerialServer) Stop() error {
	close(s.stopChan)

	// Close the pty to unblock any pending reads
	if err := s.pty.Close(); err != nil {
		s.logger.Printf("error closing pty: %v", err)
	}

	select {
	case <-s.doneChan:
	case <-time.After(1 * time.Second):
		// The goroutine is stuck in a blocking read; it will be collected
		// when the process exits.
		s.logger.Printf("serial server stop timed out (goroutine may still be reading)")
	}

	return nil
}

// serve is the main server loop that reads requests and sends responses.
func (s *SerialServer) serve() {
	defer close(s.doneChan)

	s.logger.Printf("serial server listening - server pty: %s, client pty: %s (slave ID: %d)", s.pty.MasterPath, s.pty.SlavePath, s.slaveID)

	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("serial server stopping")
			return
		default:
			if err := s.handleRequest(); err != nil {
				if err == io.EOF {
					s.logger.Printf("serial server stopping (pty closed)")
					return
				}
				s.logger.Printf("error handling request: %v", err)
			}
		}
	}
}

// handleRequest reads a single request frame and sends a response.
func (s *SerialServer) handleRequest() error {
	// Set read timeout to allow checking stopChan periodically
	if err := s.pty.Master.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
		s.logger.Printf("warning: failed to set read deadline: %v", err)
	}

	adu, err := readRTUFrame(s.pty.Master)
	if err != nil {
		if os.IsTimeout(err) {
			return nil
		}
		if err == io.EOF || err == os.ErrClosed {
			return io.EOF
		}
		s.logger.Printf("error reading frame: %v", err)
		return nil
	}

	s.logger.Printf("received: % x", adu)

	if !modbus.ValidateCRC(adu) {
		s.logger.Printf("dropping frame with bad checksum")
		return nil
	}

	// 0 is broadcast
	if adu[0] != s.slaveID && adu[0] != 0 {
		return nil
	}

	pdu := &modbus.ProtocolDataUnit{
		SlaveID:      adu[0],
		FunctionCode: adu[1],
		Data:         adu[2 : len(adu)-2],
	}
	responsePDU := s.handler.HandleRequest(pdu)
	if responsePDU == nil {
		return nil
	}

	response := make([]byte, 0, 4+len(responsePDU.Data))
	response = append(response, responsePDU.SlaveID, responsePDU.FunctionCode)
	response = append(response, responsePDU.Data...)
	response, err = modbus.AppendCRC(response, tcpMaxLength)
	if err != nil {
		s.logger.Printf("failed to encode response: %v", err)
		return nil
	}

	// Inter-frame gap of 3.5 character times
	time.Sleep(s.frameDelay(len(adu)))

	s.logger.Printf("sending: % x", response)
	if _, err := s.pty.Master.Write(response); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := s.pty.Master.Sync(); err != nil {
		s.logger.Printf("warning: failed to sync: %v", err)
	}

	return nil
}

// frameDelay calculates the inter-frame delay based on baud rate.
// See MODBUS over Serial Line - Specification and Implementation Guide.
func (s *SerialServer) frameDelay(chars int) time.Duration {
	var characterDelay, frameDelay int // microseconds

	if s.baudRate <= 0 || s.baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / s.baudRate
		frameDelay = 35000000 / s.baudRate
	}

	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
