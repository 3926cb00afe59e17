// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile holds site overrides for flag defaults
const DefaultEnvFile = "/etc/default/vpid"

// Environment variables read as flag defaults
const (
	EnvSocket   = "VPID_SOCKET"
	EnvConfig   = "VPID_CONFIG"
	EnvDevice   = "VPID_DEVICE"
	EnvAddress  = "VPID_ADDRESS"
	EnvPassword = "VPID_PASSWORD"
)

// LoadEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set win.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Env returns the value of key, or fallback when unset or empty
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
