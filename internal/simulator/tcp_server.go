// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	modbus "github.com/bsquare-corp/modbus-sphere-library"
)

const (
	tcpHeaderSize = 6
	tcpMaxLength  = 260
)

// Framing selects how a TCPServer delimits messages on the stream.
type Framing int

const (
	// FramingTCP prefixes each message with the transaction header:
	// transaction id, two reserved bytes, big-endian body length.
	FramingTCP Framing = iota
	// FramingRTU sends raw RTU frames (body plus CRC16) over the stream,
	// the way a transparent serial-to-TCP bridge does.
	FramingRTU
)

// TCPServer implements a Modbus slave listening on a TCP socket.
type TCPServer struct {
	handler  *Handler
	framing  Framing
	listener net.Listener
	address  string
	logger   *log.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// TCPServerConfig holds configuration for the TCP server.
type TCPServerConfig struct {
	Address string // e.g., "localhost:5020" or ":502"
	Framing Framing
	Logger  *log.Logger
}

// NewTCPServer creates a new TCP server with the given stores and
// configuration.
func NewTCPServer(ds *DataStore, fs *FileStore, config *TCPServerConfig) (*TCPServer, error) {
	if config == nil {
		config = &TCPServerConfig{}
	}
	if config.Address == "" {
		config.Address = "localhost:5020"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "tcp-server: ", log.LstdFlags)
	}

	return &TCPServer{
		handler:  NewHandler(ds, fs),
		framing:  config.Framing,
		address:  config.Address,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Address returns the address the server is listening on.
func (s *TCPServer) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Start starts the TCP server and begins accepting connections.
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.listener = listener
	s.logger.Printf("TCP server listening on %s", s.listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops the TCP server and waits for all connections to close.
func (s *TCPServer) Stop() error {
	close(s.stopChan)

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	s.logger.Printf("TCP server stopped")
	return nil
}

// acceptLoop accepts new client connections.
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			if err := tcpListener.SetDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				s.logger.Printf("warning: failed to set accept deadline: %v", err)
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				s.logger.Printf("error accepting connection: %v", err)
				return
			}
		}

		s.logger.Printf("accepted connection from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection serves one client connection until it closes or the
// server stops.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("closing connection from %s (server stopping)", conn.RemoteAddr())
			return
		default:
			if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				s.logger.Printf("warning: failed to set read deadline: %v", err)
				return
			}

			var err error
			if s.framing == FramingRTU {
				err = s.serveRTUFrame(conn)
			} else {
				err = s.serveTCPFrame(conn)
			}
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					// Timeout is expected, allows checking stopChan
					continue
				}
				if err == io.EOF {
					s.logger.Printf("connection closed by %s", conn.RemoteAddr())
				} else {
					s.logger.Printf("error on connection from %s: %v", conn.RemoteAddr(), err)
				}
				return
			}
		}
	}
}

// serveTCPFrame reads one header-framed request, dispatches it and writes
// the response with the transaction id echoed back.
func (s *TCPServer) serveTCPFrame(conn net.Conn) error {
	header := make([]byte, tcpHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}

	transactionID := binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint16(header[4:6])
	if length < 2 || length > tcpMaxLength {
		return fmt.Errorf("invalid length: %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return err
	}

	s.logger.Printf("received from %s: % x", conn.RemoteAddr(), append(header, body...))

	pdu := &modbus.ProtocolDataUnit{
		SlaveID:      body[0],
		FunctionCode: body[1],
		Data:         body[2:],
	}
	responsePDU := s.handler.HandleRequest(pdu)
	if responsePDU == nil {
		// Simulate an unresponsive device
		return nil
	}

	response := make([]byte, tcpHeaderSize, tcpHeaderSize+2+len(responsePDU.Data))
	binary.BigEndian.PutUint16(response[0:2], transactionID)
	binary.BigEndian.PutUint16(response[4:6], uint16(2+len(responsePDU.Data)))
	response = append(response, responsePDU.SlaveID, responsePDU.FunctionCode)
	response = append(response, responsePDU.Data...)

	return s.writeResponse(conn, response)
}

// serveRTUFrame reads one CRC-framed request off the stream, dispatches it
// and writes the CRC-framed response.
func (s *TCPServer) serveRTUFrame(conn net.Conn) error {
	adu, err := readRTUFrame(conn)
	if err != nil {
		return err
	}

	s.logger.Printf("received from %s: % x", conn.RemoteAddr(), adu)

	if !modbus.ValidateCRC(adu) {
		s.logger.Printf("dropping frame with bad checksum from %s", conn.RemoteAddr())
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
		return err
	}

	return s.writeResponse(conn, response)
}

func (s *TCPServer) writeResponse(conn net.Conn, response []byte) error {
	s.logger.Printf("sending to %s: % x", conn.RemoteAddr(), response)

	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Printf("warning: failed to set write deadline: %v", err)
		return err
	}
	_, err := conn.Write(response)
	return err
}

// readRTUFrame reads one complete RTU frame from a stream. The frame size is
// inferred from the function code and, for variable-size requests, the byte
// count field.
func readRTUFrame(r io.Reader) ([]byte, error) {
	var buffer [tcpMaxLength]byte

	// slave id + function code first
	if _, err := io.ReadFull(r, buffer[:2]); err != nil {
		return nil, err
	}
	n := 2

	total, more := expectedRequestLength(buffer[1], buffer[:n])
	for more > 0 {
		if _, err := io.ReadFull(r, buffer[n:n+more]); err != nil {
			return nil, err
		}
		n += more
		total, more = expectedRequestLength(buffer[1], buffer[:n])
	}
	if total > n {
		if _, err := io.ReadFull(r, buffer[n:total]); err != nil {
			return nil, err
		}
		n = total
	}
	return buffer[:n], nil
}

// expectedRequestLength returns the full request size for functionCode, or,
// when the size depends on a byte count not yet received, how many more
// bytes are needed before the size is known.
func expectedRequestLength(functionCode byte, sofar []byte) (total, need int) {
	switch functionCode {
	case modbus.FuncCodeReadExceptionStatus:
		return 4, 0 // slave + func + crc(2)
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		// byte count at offset 6
		if len(sofar) < 7 {
			return 0, 7 - len(sofar)
		}
		return 7 + int(sofar[6]) + 2, 0
	case modbus.FuncCodeReadFileRecord, modbus.FuncCodeWriteFileRecord:
		// byte count at offset 2
		if len(sofar) < 3 {
			return 0, 3 - len(sofar)
		}
		return 3 + int(sofar[2]) + 2, 0
	default:
		// reads and single writes: slave + func + address(2) + value(2) + crc(2)
		return 8, 0
	}
}
