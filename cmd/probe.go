// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Discover unpaired slaves",
	Long: `Broadcast a PROBE and list the slaves that answer with JOIN.

The local radio acts as master: its address is set from --address or from the
module serial number, then one PROBE is broadcast. Every unpaired slave in
range joins this master; each JOIN is acknowledged and listed. Slaves already
paired with another master stay silent.

Examples:
  rtrans probe --port /dev/ttyUSB0
  rtrans probe --url ws://bridge.local/xbee --timeout 10

Exit codes:
  0 - At least one slave joined
  1 - No slave joined before timeout
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 5, "Timeout in seconds to wait for JOINs")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	radio, addr, connInfo, err := OpenRadio(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer radio.Close()

	cfg, err := linkConfig(rtrans.RoleMaster, addr)
	if err != nil {
		return err
	}

	station, err := rtrans.NewStation(cfg, radio, rtrans.NewSystemClock(), rtrans.HandlerFunc(func(h rtrans.AbbrevHeader, _ []byte) {
		if h.Type == rtrans.TypeJoin {
			fmt.Printf("\nSlave joined:\n")
			fmt.Printf("  Address: %s\n", rtrans.FormatAddress(h.Slave))
		}
	}))
	if err != nil {
		return err
	}

	fmt.Printf("rtrans - Slave Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Master address: %s\n", rtrans.FormatAddress(addr))
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	fmt.Printf("Broadcasting PROBE...\n")
	if err := station.Probe(); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(probeTimeout)*time.Second)
	defer cancel()
	driveLoop(waitCtx, radio.Done(), station.Tick, nil)

	select {
	case <-radio.Done():
		fmt.Printf("READ FAILED: connection closed\n")
		os.Exit(2)
	default:
	}

	peers := station.Peers()
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Slaves found: %d\n", len(peers))
	for _, p := range peers {
		fmt.Printf("  %s\n", rtrans.FormatAddress(p.Address))
	}

	if len(peers) == 0 {
		fmt.Printf("No slaves joined. Check that slaves are powered and unpaired.\n")
		os.Exit(1)
	}

	return nil
}
