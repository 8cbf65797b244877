// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	modbus "github.com/bsquare-corp/modbus-sphere-library"
)

func main() {
	app := &cli.App{
		Name:  "modbus-cli",
		Usage: "Command-line tool for Modbus communication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "protocol",
				Aliases:  []string{"p"},
				Usage:    "Protocol type: tcp, rtu-over-tcp, or rtu",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Connection address (TCP: host:port, RTU: /dev/ttyUSB0)",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "slave-id",
				Aliases: []string{"s"},
				Usage:   "Modbus slave/unit ID",
				Value:   1,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Timeout duration",
				Value:   5 * time.Second,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Dump every frame sent and received",
			},
			// Serial-specific options
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate (rtu only)",
				Value: 115200,
			},
			&cli.IntFlag{
				Name:  "data-bits",
				Usage: "Data bits (rtu only)",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "stop-bits",
				Usage: "Stop bits (rtu only)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "parity",
				Usage: "Parity: none, odd, even (rtu only)",
				Value: "none",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read-coils",
				Usage: "Read coils (function code 1)",
				Flags: readBitFlags(2000),
				Action: func(c *cli.Context) error {
					return runBitRead(c, func(h *modbus.Handle, ctx context.Context, slaveID byte, start, count uint16) ([]byte, error) {
						return h.ReadCoils(ctx, slaveID, start, count)
					})
				},
			},
			{
				Name:  "read-discrete-inputs",
				Usage: "Read discrete inputs (function code 2)",
				Flags: readBitFlags(2000),
				Action: func(c *cli.Context) error {
					return runBitRead(c, func(h *modbus.Handle, ctx context.Context, slaveID byte, start, count uint16) ([]byte, error) {
						return h.ReadDiscreteInputs(ctx, slaveID, start, count)
					})
				},
			},
			{
				Name:  "read-holding-registers",
				Usage: "Read holding registers (function code 3)",
				Flags: readRegisterFlags(125),
				Action: func(c *cli.Context) error {
					return runRegisterRead(c, func(h *modbus.Handle, ctx context.Context, slaveID byte, start, count uint16) ([]uint16, error) {
						return h.ReadHoldingRegisters(ctx, slaveID, start, count)
					})
				},
			},
			{
				Name:  "read-input-registers",
				Usage: "Read input registers (function code 4)",
				Flags: readRegisterFlags(125),
				Action: func(c *cli.Context) error {
					return runRegisterRead(c, func(h *modbus.Handle, ctx context.Context, slaveID byte, start, count uint16) ([]uint16, error) {
						return h.ReadInputRegisters(ctx, slaveID, start, count)
					})
				},
			},
			{
				Name:   "read-exception-status",
				Usage:  "Read exception status (function code 7)",
				Action: readExceptionStatusAction,
			},
			{
				Name:  "write-coil",
				Usage: "Write a single coil (function code 5)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Coil address", Required: true},
					&cli.BoolFlag{Name: "on", Usage: "Write ON instead of OFF"},
				},
				Action: writeCoilAction,
			},
			{
				Name:  "write-register",
				Usage: "Write a single holding register (function code 6)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Register address", Required: true},
					&cli.UintFlag{Name: "value", Usage: "Register value", Required: true},
				},
				Action: writeRegisterAction,
			},
			{
				Name:      "write-registers",
				Usage:     "Write multiple holding registers (function code 16)",
				ArgsUsage: "VALUE [VALUE...]",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
				},
				Action: writeRegistersAction,
			},
			{
				Name:  "read-file-records",
				Usage: "Read file records (function code 20)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "file", Usage: "File number", Required: true},
					&cli.UintFlag{Name: "record", Usage: "Starting record number", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of records to read", Required: true},
				},
				Action: readFileRecordsAction,
			},
			{
				Name:      "write-file-records",
				Usage:     "Write file records (function code 21)",
				ArgsUsage: "VALUE [VALUE...]",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "file", Usage: "File number", Required: true},
					&cli.UintFlag{Name: "record", Usage: "Starting record number", Required: true},
				},
				Action: writeFileRecordsAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func readBitFlags(max uint) []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
		&cli.UintFlag{Name: "count", Usage: fmt.Sprintf("Number of bits to read (1-%d)", max), Required: true},
	}
}

func readRegisterFlags(max uint) []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
		&cli.UintFlag{Name: "count", Usage: fmt.Sprintf("Number of registers to read (1-%d)", max), Required: true},
		&cli.StringFlag{Name: "format", Usage: "Output format: hex, decimal", Value: "hex"},
	}
}

// connect opens a handle based on the global flags.
func connect(c *cli.Context) (*modbus.Handle, error) {
	m := modbus.NewMaster()
	m.DialTimeout = c.Duration("timeout")
	if c.Bool("verbose") {
		m.Logger = log.New(os.Stderr, "modbus: ", log.LstdFlags)
	}

	address := c.String("address")
	switch protocol := c.String("protocol"); protocol {
	case "tcp":
		return m.ConnectTCP(address)
	case "rtu-over-tcp":
		return m.ConnectRTUOverTCP(address)
	case "rtu":
		return m.ConnectRTU(address, modbus.SerialConfig{
			BaudRate: c.Int("baud"),
			DataBits: c.Int("data-bits"),
			StopBits: parseStopBits(c.Int("stop-bits")),
			Parity:   parseParity(c.String("parity")),
		})
	default:
		return nil, fmt.Errorf("unsupported protocol: %s (must be tcp, rtu-over-tcp, or rtu)", protocol)
	}
}

func parseStopBits(bits int) modbus.StopBits {
	if bits == 2 {
		return modbus.TwoStopBits
	}
	return modbus.OneStopBit
}

func parseParity(parity string) modbus.Parity {
	switch parity {
	case "odd":
		return modbus.OddParity
	case "even":
		return modbus.EvenParity
	default:
		return modbus.NoParity
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM and bounded by
// the timeout flag.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received interrupt signal, cancelling operation...")
		cancel()
	}()

	return ctx, cancel
}

func runBitRead(c *cli.Context, read func(*modbus.Handle, context.Context, byte, uint16, uint16) ([]byte, error)) error {
	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))

	results, err := read(h, ctx, byte(c.Int("slave-id")), start, count)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	for i := uint16(0); i < count; i++ {
		bit := (results[i/8] >> (i % 8)) & 0x01
		fmt.Printf("0x%04X: %d\n", start+i, bit)
	}
	return nil
}

func runRegisterRead(c *cli.Context, read func(*modbus.Handle, context.Context, byte, uint16, uint16) ([]uint16, error)) error {
	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))

	results, err := read(h, ctx, byte(c.Int("slave-id")), start, count)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	printRegisters(start, results, c.String("format"))
	return nil
}

func readExceptionStatusAction(c *cli.Context) error {
	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	status, err := h.ReadExceptionStatus(ctx, byte(c.Int("slave-id")))
	if err != nil {
		return fmt.Errorf("failed to read exception status: %w", err)
	}

	fmt.Printf("Exception status: 0x%02X\n", status)
	return nil
}

func writeCoilAction(c *cli.Context) error {
	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	address := uint16(c.Uint("address"))
	on := c.Bool("on")
	if err := h.WriteSingleCoil(ctx, byte(c.Int("slave-id")), address, on); err != nil {
		return fmt.Errorf("failed to write coil: %w", err)
	}

	fmt.Printf("Coil 0x%04X written: %v\n", address, on)
	return nil
}

func writeRegisterAction(c *cli.Context) error {
	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	address := uint16(c.Uint("address"))
	value := uint16(c.Uint("value"))
	if err := h.WriteSingleRegister(ctx, byte(c.Int("slave-id")), address, value); err != nil {
		return fmt.Errorf("failed to write register: %w", err)
	}

	fmt.Printf("Register 0x%04X written: 0x%04X\n", address, value)
	return nil
}

func writeRegistersAction(c *cli.Context) error {
	values, err := parseValues(c)
	if err != nil {
		return err
	}

	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	start := uint16(c.Uint("start"))
	if err := h.WriteMultipleRegisters(ctx, byte(c.Int("slave-id")), start, values); err != nil {
		return fmt.Errorf("failed to write registers: %w", err)
	}

	fmt.Printf("%d registers written starting at 0x%04X\n", len(values), start)
	return nil
}

func readFileRecordsAction(c *cli.Context) error {
	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	record := uint16(c.Uint("record"))
	results, err := h.ReadFileRecords(ctx, byte(c.Int("slave-id")), modbus.FileRequest{
		FileNumber:   uint16(c.Uint("file")),
		RecordNumber: record,
		RecordCount:  uint16(c.Uint("count")),
	})
	if err != nil {
		return fmt.Errorf("failed to read file records: %w", err)
	}

	printRegisters(record, results[0], "hex")
	return nil
}

func writeFileRecordsAction(c *cli.Context) error {
	values, err := parseValues(c)
	if err != nil {
		return err
	}

	h, err := connect(c)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	record := uint16(c.Uint("record"))
	err = h.WriteFileRecords(ctx, byte(c.Int("slave-id")), modbus.FileWriteRequest{
		FileNumber:   uint16(c.Uint("file")),
		RecordNumber: record,
		Records:      values,
	})
	if err != nil {
		return fmt.Errorf("failed to write file records: %w", err)
	}

	fmt.Printf("%d records written starting at %d\n", len(values), record)
	return nil
}

// parseValues parses the positional arguments as 16-bit values, accepting
// decimal or 0x-prefixed hex.
func parseValues(c *cli.Context) ([]uint16, error) {
	if c.NArg() == 0 {
		return nil, fmt.Errorf("at least one value is required")
	}
	values := make([]uint16, c.NArg())
	for i, arg := range c.Args().Slice() {
		v, err := strconv.ParseUint(arg, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", arg, err)
		}
		values[i] = uint16(v)
	}
	return values, nil
}

func printRegisters(start uint16, values []uint16, format string) {
	for i, value := range values {
		switch format {
		case "decimal":
			fmt.Printf("0x%04X: %d\n", start+uint16(i), value)
		default: // hex
			fmt.Printf("0x%04X: 0x%04X\n", start+uint16(i), value)
		}
	}
}
