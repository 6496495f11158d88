// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Thermoquad/rtrans/pkg/radiosim"
	"github.com/Thermoquad/rtrans/pkg/rapp"
	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

const (
	simMasterAddr = 0x0001
	simSlaveBase  = 0x0010
)

var (
	simSlaves     int
	simLoss       float64
	simCorruption float64
	simSeed       int64
	simDuration   time.Duration
	simEvents     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a master and slaves over a simulated lossy radio",
	Long: `Run a master station and a number of sensing slaves in memory.

Frames travel over a simulated shared medium that drops and corrupts frames
with the given probabilities. Time is virtual: --duration of network time is
simulated as fast as possible. The master probes, polls and expires slaves
according to the master flags (--probe-interval, --poll-interval, --expire,
--set).

Examples:
  rtrans simulate --slaves 4 --loss 0.2 --duration 10m
  rtrans simulate --corruption 0.05 --events --set interval=20`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVar(&simSlaves, "slaves", 3, "Number of simulated slaves")
	simulateCmd.Flags().Float64Var(&simLoss, "loss", 0.1, "Probability a frame is lost")
	simulateCmd.Flags().Float64Var(&simCorruption, "corruption", 0.01, "Probability a delivered frame is corrupted")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 1, "Seed for the network and sensors")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 5*time.Minute, "Simulated network time")
	simulateCmd.Flags().BoolVar(&simEvents, "events", false, "Print master events as they happen")

	simulateCmd.Flags().DurationVar(&masterProbeInterval, "probe-interval", 30*time.Second, "Interval between PROBE broadcasts (0 probes once)")
	simulateCmd.Flags().DurationVar(&masterPollInterval, "poll-interval", 10*time.Second, "Interval between polls of each slave")
	simulateCmd.Flags().DurationVar(&masterExpire, "expire", 2*time.Minute, "Drop slaves not heard from for this long (0 never)")
	simulateCmd.Flags().StringSliceVar(&masterSet, "set", nil, "Parameter sent to joining slaves as name=value (interval, history)")
}

// simOptions describes one simulated run
type simOptions struct {
	slaves     int
	loss       float64
	corruption float64
	seed       int64
	ticks      rtrans.Tick
	schedule   masterSchedule
}

// simResult is the outcome of a simulated run
type simResult struct {
	master *rtrans.Station
	nodes  []*rapp.Node
	net    *radiosim.Network
	data   uint64 // DATA packages received by the master
}

// simulate runs a master and opts.slaves nodes for opts.ticks of virtual time
func simulate(opts simOptions, emit func(rtrans.Tick, masterEvent)) (*simResult, error) {
	if opts.slaves < 1 || opts.slaves > 0xFF {
		return nil, errors.Errorf("slaves must be in 1..255, got %d", opts.slaves)
	}

	var now rtrans.Tick
	clock := rtrans.ClockFunc(func() rtrans.Tick { return now })

	net := radiosim.NewNetwork(
		radiosim.WithLoss(opts.loss),
		radiosim.WithCorruption(opts.corruption),
		radiosim.WithSeed(opts.seed),
		radiosim.WithLogger(logrus.WithField("component", "radiosim")),
	)
	res := &simResult{net: net}

	masterRadio, err := net.Attach(simMasterAddr)
	if err != nil {
		return nil, err
	}
	cfg, err := linkConfig(rtrans.RoleMaster, simMasterAddr)
	if err != nil {
		return nil, err
	}
	runner, err := newMasterRunner(cfg, masterRadio, clock, opts.schedule, func(e masterEvent) {
		if emit != nil {
			emit(now, e)
		}
	})
	if err != nil {
		return nil, err
	}
	res.master = runner.station

	for i := 0; i < opts.slaves; i++ {
		addr := uint16(simSlaveBase + i)
		radio, err := net.Attach(addr)
		if err != nil {
			return nil, err
		}
		cfg, err := linkConfig(rtrans.RoleSlave, addr)
		if err != nil {
			return nil, err
		}
		node, err := rapp.NewNode(cfg, radio, clock, rapp.NewSimSensor(opts.seed+int64(i)))
		if err != nil {
			return nil, err
		}
		res.nodes = append(res.nodes, node)
	}

	for n := uint64(1); now < opts.ticks; n++ {
		var errs error
		for _, node := range res.nodes {
			errs = multierr.Append(errs, node.Tick())
		}
		errs = multierr.Append(errs, runner.tick())
		for _, e := range multierr.Errors(errs) {
			logrus.WithError(e).Debug("Tick")
		}
		now++
		runner.schedule(n)
	}
	res.data = runner.dataPackages
	return res, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sched, err := scheduleFromFlags()
	if err != nil {
		return err
	}

	opts := simOptions{
		slaves:     simSlaves,
		loss:       simLoss,
		corruption: simCorruption,
		seed:       simSeed,
		ticks:      rtrans.TicksFromDuration(simDuration),
		schedule:   sched,
	}

	fmt.Printf("rtrans - Network Simulation\n")
	fmt.Printf("Slaves: %d  Loss: %.1f%%  Corruption: %.1f%%  Duration: %s\n\n",
		opts.slaves, opts.loss*100, opts.corruption*100, simDuration)

	var emit func(rtrans.Tick, masterEvent)
	if simEvents {
		emit = func(at rtrans.Tick, e masterEvent) {
			prefix := ""
			if e.isError {
				prefix = "[ERROR] "
			}
			fmt.Printf("[%10s] %s%s\n", at.Duration(), prefix, e.message)
		}
	}

	res, err := simulate(opts, emit)
	if err != nil {
		return err
	}

	fmt.Printf("\n--- Peers ---\n")
	for _, p := range res.master.Peers() {
		fmt.Printf("  %s  joined %s  segments %d  polls %d  last %s\n",
			rtrans.FormatAddress(p.Address), p.Joined.Duration(), p.Segments, p.Polls, p.LastType)
	}
	fmt.Printf("DATA packages received: %d\n", res.data)

	fmt.Printf("\n--- Master %s ---\n", rtrans.FormatAddress(simMasterAddr))
	fmt.Printf("%s", res.master.Transport().Stats())

	for _, node := range res.nodes {
		t := node.Transport()
		ns := node.Stats()
		fmt.Printf("\n--- Slave %s (%s) ---\n", rtrans.FormatAddress(t.Address()), t.State())
		fmt.Printf("Probes %d, polls %d, sets %d, readings sent %d, errors %d, send failures %d\n",
			ns.Probes, ns.Polls, ns.Sets, ns.Readings, ns.Errors, ns.SendFails)
		fmt.Printf("%s", t.Stats())
	}

	fmt.Printf("\n--- Network ---\n")
	fmt.Printf("Delivered: %d  Dropped: %d  Corrupted: %d  Overflows: %d\n",
		res.net.Delivered.Load(), res.net.Dropped.Load(), res.net.Corrupted.Load(), res.net.Overflows.Load())
	return nil
}
