// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// vpid - VPi board supervisory daemon
//
// Drives the VPi power-management board over I2C, runs user rules against
// its button and status events and exposes a command socket.

package main

import (
	"os"

	"github.com/Thermoquad/vpid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
