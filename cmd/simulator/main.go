// Copyright (c) Bsquare EMEA 2020. https://www.bsquare.com/
// This software may be modified and distributed under the terms
// of the MIT license. See the LICENSE file for details.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/bsquare-corp/modbus-sphere-library/internal/simulator"
)

func main() {
	app := &cli.App{
		Name:  "modbus-simulator",
		Usage: "Modbus slave simulator for testing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Framing mode: tcp, rtu-over-tcp, or rtu",
				Value:   "tcp",
			},
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "TCP address (tcp modes only, format: host:port)",
				Value:   "localhost:5020",
			},
			&cli.IntFlag{
				Name:    "slave-id",
				Aliases: []string{"s"},
				Usage:   "Slave ID for serial mode (1-247)",
				Value:   1,
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate for serial mode",
				Value: 19200,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "JSON config file for initial data values",
			},
		},
		Action: runSimulator,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSimulator(c *cli.Context) error {
	mode := c.String("mode")
	slaveID := c.Int("slave-id")

	if slaveID < 1 || slaveID > 247 {
		return fmt.Errorf("invalid slave ID %d: must be between 1 and 247", slaveID)
	}

	var config *simulator.DataStoreConfig
	if configFile := c.String("config"); configFile != "" {
		var err error
		config, err = loadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("loaded initial data from %s", configFile)
	}

	ds := simulator.NewDataStore(config)
	fs := simulator.NewFileStore()

	var server interface {
		Start() error
		Stop() error
	}
	var connectionInfo string

	switch mode {
	case "rtu":
		serialServer, err := simulator.NewSerialServer(ds, fs, &simulator.SerialServerConfig{
			SlaveID:  byte(slaveID),
			BaudRate: c.Int("baud"),
		})
		if err != nil {
			return fmt.Errorf("failed to create serial server: %w", err)
		}
		server = serialServer
		connectionInfo = fmt.Sprintf("Client device path: %s", serialServer.ClientDevicePath())

	case "tcp", "rtu-over-tcp":
		framing := simulator.FramingTCP
		if mode == "rtu-over-tcp" {
			framing = simulator.FramingRTU
		}
		tcpServer, err := simulator.NewTCPServer(ds, fs, &simulator.TCPServerConfig{
			Address: c.String("addr"),
			Framing: framing,
		})
		if err != nil {
			return fmt.Errorf("failed to create TCP server: %w", err)
		}
		server = tcpServer
		connectionInfo = fmt.Sprintf("TCP address: %s", tcpServer.Address())

	default:
		return fmt.Errorf("invalid mode %q: must be tcp, rtu-over-tcp, or rtu", mode)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	fmt.Printf("Modbus %s simulator running\n", mode)
	fmt.Printf("%s\n", connectionInfo)
	if mode == "rtu" {
		fmt.Printf("Slave ID: %d\n", slaveID)
		fmt.Printf("Baud rate: %d\n", c.Int("baud"))
	}
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	if err := server.Stop(); err != nil {
		log.Printf("error stopping server: %v", err)
	}

	return nil
}

// loadConfig loads a DataStoreConfig from a JSON file.
func loadConfig(filename string) (*simulator.DataStoreConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config simulator.DataStoreConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &config, nil
}
