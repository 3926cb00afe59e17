// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/internal/sock"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

var (
	// Daemon flags
	socketPath string
	configPath string
	devicePath string
	addressArg string
	envFile    string
	logLevel   string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "vpid",
	Short: "VPi board supervisory daemon and control tool",
	Long: `vpid - Supervisory daemon and control tool for the VPi power board.

The daemon owns the board's I2C register interface: it polls status, feeds
the watchdog, regulates the fan, evaluates button rules and serves commands
from a unix socket, MQTT and an optional websocket bridge.

Client commands reach the daemon over its unix socket, or over the
websocket bridge with --url:
  Socket:    [--socket /run/vpid.sock]
  WebSocket: --url ws://host:8081/ws [--username user]

For WebSocket authentication, the password is read from the VPID_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Flag defaults can be overridden in the env file (VPID_SOCKET, VPID_CONFIG,
VPID_DEVICE, VPID_ADDRESS, LOG_LEVEL, LOG_FORMAT).`,
	Version:           "0.2.0",
	SilenceUsage:      true,
	PersistentPreRunE: applyEnvDefaults,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", sock.DefaultPath, "Daemon control socket")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "d", "", "I2C device (default from config, "+vpi.DefaultDevice+")")
	rootCmd.PersistentFlags().StringVarP(&addressArg, "address", "a", fmt.Sprintf("0x%02X", vpi.DefaultAddress), "Board I2C address")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Environment file with flag defaults")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// applyEnvDefaults loads the env file and fills flags the user did not set
func applyEnvDefaults(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}
	flags := cmd.Flags()
	for name, env := range map[string]struct {
		target *string
		key    string
	}{
		"socket":  {&socketPath, config.EnvSocket},
		"config":  {&configPath, config.EnvConfig},
		"device":  {&devicePath, config.EnvDevice},
		"address": {&addressArg, config.EnvAddress},
	} {
		if !flags.Changed(name) {
			*env.target = config.Env(env.key, *env.target)
		}
	}
	return nil
}

// parseAddress accepts decimal or 0x-prefixed hex bus addresses
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v > 0x7F {
		return 0, fmt.Errorf("invalid I2C address %q", s)
	}
	return uint16(v), nil
}

// boardDevice returns the I2C device for direct board access
func boardDevice() string {
	if devicePath != "" {
		return devicePath
	}
	return vpi.DefaultDevice
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
