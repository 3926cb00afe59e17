// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vpid/internal/logging"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

var (
	firmwareBootAddress string
	firmwareResetPin    int
)

var firmwareCmd = &cobra.Command{
	Use:   "firmware FILE",
	Short: "Upload a firmware image through the board bootloader",
	Long: `Reset the board into its bootloader and upload a raw firmware image.

The image is sent in 64-byte blocks (the last one padded with 0xFF) after a
request frame carrying the block count and the image CRC-8. The bootloader
acknowledges the request and the complete image.

Stop the daemon first: the upload resets the board.

Use --reset-pin -1 when the board is already in its bootloader.`,
	Args: cobra.ExactArgs(1),
	RunE: runFirmware,
}

func init() {
	rootCmd.AddCommand(firmwareCmd)
	firmwareCmd.Flags().StringVar(&firmwareBootAddress, "boot-address", fmt.Sprintf("0x%02X", vpi.BootloaderAddress), "Bootloader I2C address")
	firmwareCmd.Flags().IntVar(&firmwareResetPin, "reset-pin", vpi.DefaultResetPin, "BCM GPIO wired to the board reset line")
}

func runFirmware(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	addr, err := parseAddress(firmwareBootAddress)
	if err != nil {
		return err
	}
	logger, err := logging.FromEnv(logLevel)
	if err != nil {
		return err
	}

	crc, blocks := vpi.ImageCRC(image)
	fmt.Printf("vpid - Firmware Upload\n")
	fmt.Printf("Image: %s (%d bytes, %d blocks, crc 0x%02X)\n", args[0], len(image), blocks, crc)
	fmt.Printf("Bootloader: %s @ 0x%02X\n\n", boardDevice(), addr)

	conn, err := vpi.OpenI2C(boardDevice(), addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	u := &vpi.Uploader{Conn: conn, Logger: logging.Component(logger, "bootloader")}
	if firmwareResetPin >= 0 {
		pin, err := vpi.OpenResetPin(firmwareResetPin)
		if err != nil {
			return err
		}
		u.Reset = pin
	}

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	u.Progress = func(sent, total int) {
		fmt.Printf("\r%s %d/%d", bar.ViewAs(float64(sent)/float64(total)), sent, total)
	}

	if err := u.Upload(image); err != nil {
		fmt.Println()
		if vpi.IsNACK(err) {
			return fmt.Errorf("bootloader rejected the image: %w", err)
		}
		return err
	}
	fmt.Printf("\n\n%s => firmware uploaded\n", resultMarker(true))
	return nil
}
