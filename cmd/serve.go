// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vpid/internal/daemon"
	"github.com/Thermoquad/vpid/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the board supervisory daemon",
	Long: `Run the daemon in the foreground.

The daemon opens the board, pushes the configuration, then serves the
control socket until it receives SIGTERM/SIGINT or an "exit" command.
SIGHUP and the "reload" command rebuild all state from the configuration
file.

Exit codes:
  0 - Normal exit
  1 - Configuration or I2C device missing or invalid
  2 - Control socket could not be started
  3 - Board lost (recovery failed) or fatal loop error`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.FromEnv(logLevel)
	if err != nil {
		return err
	}
	addr, err := parseAddress(addressArg)
	if err != nil {
		return err
	}

	d := daemon.New(daemon.Options{
		ConfigPath: configPath,
		Device:     devicePath,
		Address:    addr,
		Socket:     socketPath,
		Logger:     logger,
		Signals:    true,
	})
	code := d.Run(cmd.Context())
	if code != daemon.ExitOK {
		fmt.Fprintf(os.Stderr, "vpid exited with code %d\n", code)
	}
	os.Exit(code)
	return nil
}
