// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vpid/internal/logging"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

var dcmdJSON bool

var dcmdCmd = &cobra.Command{
	Use:   "dcmd VERB [args...]",
	Short: "Run one command directly against the board",
	Long: `Open the I2C device and run a single board command without the daemon.

Do not use this while the daemon is running: the daemon expects to be the
only owner of the board's registers.

Accepts the same board vocabulary as "vpid cmd".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDcmd,
}

func init() {
	rootCmd.AddCommand(dcmdCmd)
	dcmdCmd.Flags().BoolVar(&dcmdJSON, "json", false, "Print the result as JSON")
}

func runDcmd(cmd *cobra.Command, args []string) error {
	command, err := vpi.ParseFields(args)
	if err != nil {
		return err
	}
	addr, err := parseAddress(addressArg)
	if err != nil {
		return err
	}
	logger, err := logging.FromEnv(logLevel)
	if err != nil {
		return err
	}

	d := vpi.NewDriver(vpi.WithAddress(addr), vpi.WithLogger(logging.Component(logger, "driver")))
	if err := d.Open(boardDevice()); err != nil {
		return err
	}
	defer d.Close()

	out, err := d.Run(command)
	if err != nil {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	if dcmdJSON {
		fmt.Println(out.JSON())
	} else {
		fmt.Println(out.String())
	}
	return nil
}
