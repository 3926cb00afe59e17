// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vpid/pkg/vpi"
)

var (
	probeFirst string
	probeLast  string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Scan the I2C bus for VPi boards",
	Long: `Try every address in a range and report the ones answering with the
VPi chip id, together with their firmware version and UUID.

Examples:
  # Scan the default range on /dev/i2c-1
  vpid probe

  # Scan a narrow range on another bus
  vpid probe --device /dev/i2c-3 --first 0x30 --last 0x38

Exit codes:
  0 - At least one board found
  1 - No board found`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeFirst, "first", "0x08", "First address to probe")
	probeCmd.Flags().StringVar(&probeLast, "last", "0x77", "Last address to probe")
}

func runProbe(cmd *cobra.Command, args []string) error {
	first, err := parseAddress(probeFirst)
	if err != nil {
		return err
	}
	last, err := parseAddress(probeLast)
	if err != nil {
		return err
	}

	fmt.Printf("vpid - Bus Probe\n")
	fmt.Printf("Device: %s\n", boardDevice())
	fmt.Printf("Range: 0x%02X-0x%02X\n\n", first, last)

	found := 0
	for addr := first; addr <= last; addr++ {
		d := vpi.NewDriver(vpi.WithAddress(addr))
		err := d.Open(boardDevice())
		switch {
		case err == nil:
			regs := d.Registers()
			fmt.Printf("  0x%02X  id=0x%02X  version=%d  uuid=%s\n", addr, regs.ID, regs.Version, d.UUID())
			found++
			d.Close()
		case errors.Is(err, vpi.ErrDeviceMismatch):
			fmt.Printf("  0x%02X  %s\n", addr, paint(dimStyle, "device present, not a VPi board"))
		}
	}

	fmt.Printf("\n%d board(s) found\n", found)
	if found == 0 {
		os.Exit(1)
	}
	return nil
}
