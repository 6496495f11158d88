// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/rtrans/pkg/rapp"
	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

var (
	slaveMaster string
	slaveSeed   int64
)

var slaveCmd = &cobra.Command{
	Use:   "slave",
	Short: "Run a sensing slave that answers a master",
	Long: `Run a slave node on the local radio.

The slave waits unpaired until a master broadcasts PROBE, then joins it. It
samples a simulated sensor every interval and answers each POLL with the
readings collected since the last poll. SET packages from the master change
the sampling interval and history depth.

With --master, the slave starts paired to that address and never joins.

Examples:
  rtrans slave --port /dev/ttyUSB1
  rtrans slave --port /dev/ttyUSB1 --address 0x0010 --master 0x0001`,
	RunE: runSlave,
}

func init() {
	rootCmd.AddCommand(slaveCmd)
	slaveCmd.Flags().StringVar(&slaveMaster, "master", "", "Start paired to this master address")
	slaveCmd.Flags().Int64Var(&slaveSeed, "seed", 1, "Seed for the simulated sensor")
}

func runSlave(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	radio, addr, connInfo, err := OpenRadio(ctx)
	if err != nil {
		return err
	}
	defer radio.Close()

	cfg, err := linkConfig(rtrans.RoleSlave, addr)
	if err != nil {
		return err
	}
	if slaveMaster != "" {
		master, err := parseAddress(slaveMaster)
		if err != nil {
			return err
		}
		cfg.Master = master
	}

	node, err := rapp.NewNode(cfg, radio, rtrans.NewSystemClock(), rapp.NewSimSensor(slaveSeed))
	if err != nil {
		return err
	}

	fmt.Printf("rtrans - Slave Node\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Address: %s\n", rtrans.FormatAddress(addr))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	t := node.Transport()
	state := t.State()
	fmt.Printf("State: %s\n", state)

	driveLoop(ctx, radio.Done(), node.Tick, func(n uint64) {
		if s := t.State(); s != state {
			state = s
			if t.Paired() {
				fmt.Printf("State: %s (master %s)\n", s, rtrans.FormatAddress(t.Master()))
			} else {
				fmt.Printf("State: %s\n", s)
			}
		}
	})

	ns := node.Stats()
	fmt.Printf("\nProbes %d, polls %d, sets %d, readings sent %d, errors %d, send failures %d\n",
		ns.Probes, ns.Polls, ns.Sets, ns.Readings, ns.Errors, ns.SendFails)
	fmt.Printf("%s", t.Stats())
	return nil
}
