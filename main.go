// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// rtrans - Reliable transport over XBee radios
//
// A CLI tool for running master and slave stations of the rtrans protocol,
// sniffing segments and simulating lossy networks.

package main

import (
	"os"

	"github.com/Thermoquad/rtrans/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
