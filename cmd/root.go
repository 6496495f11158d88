// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rtrans",
	Short: "Reliable transport over XBee radios",
	Long: `rtrans - A CLI tool for running and diagnosing the rtrans reliable transport
over XBee 802.15.4 radios.

Provides commands for sniffing segments, discovering slaves, running a master
station or a sensing slave, and simulating a lossy network in memory.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Every flag can also be set in a config file (--config) or with an RTRANS_
environment variable, e.g. RTRANS_PORT=/dev/ttyUSB0 or RTRANS_RETX_LIMIT=6.

For WebSocket authentication, the password is read from the RTRANS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	PersistentPreRunE: setupLogging,
	SilenceUsage:      true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "Log in JSON format")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Radio and link flags
	flags.String("address", "", "16-bit node address (default: low 16 bits of the radio serial number)")
	flags.Bool("escaped", true, "XBee API mode 2 (escaped) framing")
	flags.Int("packet-size", 100, "Radio MTU in bytes, header and checksum included")
	flags.Int("max-segments", 6, "Maximum segments per package")
	flags.Int("retx-limit", 4, "Retransmissions before a package is abandoned")
	flags.Duration("retx-timeout", 20*time.Second, "Retransmit timeout (tick resolution 100ms)")

	bindPersistentFlags(rootCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
