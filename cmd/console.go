// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var (
	consolePort string
	consoleBaud int
	consoleList bool
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Print the board's UART debug output",
	Long: `Open the serial port wired to the board's debug UART and copy everything
it prints to stdout. Useful when bringing up firmware or when the board
stops answering on I2C.

Examples:
  # List serial ports
  vpid console --list

  # Follow the debug output
  vpid console --port /dev/ttyUSB0`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&consolePort, "port", "p", "", "Serial port device (e.g., /dev/ttyUSB0)")
	consoleCmd.Flags().IntVarP(&consoleBaud, "baud", "b", 115200, "Baud rate")
	consoleCmd.Flags().BoolVar(&consoleList, "list", false, "List available serial ports and exit")
}

func runConsole(cmd *cobra.Command, args []string) error {
	if consoleList {
		return listPorts()
	}
	if consolePort == "" {
		return fmt.Errorf("--port is required")
	}

	mode := &serial.Mode{
		BaudRate: consoleBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(consolePort, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", consolePort, err)
	}
	defer port.Close()

	fmt.Fprintf(os.Stderr, "vpid - Board Console\n")
	fmt.Fprintf(os.Stderr, "Port: %s @ %d baud\n", consolePort, consoleBaud)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	if _, err := io.Copy(os.Stdout, port); err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	return nil
}

func listPorts() error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%-20s USB %s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
		} else {
			fmt.Printf("%s\n", p.Name)
		}
	}
	return nil
}
