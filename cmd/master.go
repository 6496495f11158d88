// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/rtrans/pkg/rapp"
	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

var (
	masterTUI           bool
	masterProbeInterval time.Duration
	masterPollInterval  time.Duration
	masterExpire        time.Duration
	masterSet           []string
	masterMetricsAddr   string
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run a master station that collects slave readings",
	Long: `Run a master station on the local radio.

The station periodically broadcasts PROBE so unpaired slaves join, polls every
joined slave for sensor readings and prints each DATA package as it arrives.
Slaves not heard from within --expire are dropped from the peer table.

With --set, every slave that joins is sent the given parameters, e.g.
  rtrans master --port /dev/ttyUSB0 --set interval=50 --set history=16

With --tui, an interactive monitor shows the peer table, link statistics and
an event log. Keys: p probe, enter poll selected slave, r reset statistics,
q quit.

With --metrics-addr, link statistics are exported for Prometheus.`,
	RunE: runMaster,
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.Flags().BoolVar(&masterTUI, "tui", false, "Interactive terminal monitor")
	masterCmd.Flags().DurationVar(&masterProbeInterval, "probe-interval", 30*time.Second, "Interval between PROBE broadcasts (0 probes once)")
	masterCmd.Flags().DurationVar(&masterPollInterval, "poll-interval", 10*time.Second, "Interval between polls of each slave")
	masterCmd.Flags().DurationVar(&masterExpire, "expire", 2*time.Minute, "Drop slaves not heard from for this long (0 never)")
	masterCmd.Flags().StringSliceVar(&masterSet, "set", nil, "Parameter sent to joining slaves as name=value (interval, history)")
	masterCmd.Flags().StringVar(&masterMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9311")
}

// masterEvent is one line of master activity
type masterEvent struct {
	at      time.Time
	message string
	isError bool
}

// masterRunner drives a station and schedules probes and polls. All of its
// methods run on the driver loop goroutine.
type masterRunner struct {
	station *rtrans.Station
	params  rapp.Params
	emit    func(masterEvent)
	actions chan func(*masterRunner)
	metrics *linkMetrics

	probeEvery uint64
	pollEvery  uint64
	expire     rtrans.Tick

	dataPackages uint64
}

// masterSchedule sets how often a master probes, polls and expires slaves
type masterSchedule struct {
	probe  time.Duration
	poll   time.Duration
	expire time.Duration
	params rapp.Params
}

func scheduleFromFlags() (masterSchedule, error) {
	params, err := parseParams(masterSet)
	if err != nil {
		return masterSchedule{}, err
	}
	return masterSchedule{
		probe:  masterProbeInterval,
		poll:   masterPollInterval,
		expire: masterExpire,
		params: params,
	}, nil
}

func newMasterRunner(cfg rtrans.Config, radio rtrans.Radio, clock rtrans.Clock, sched masterSchedule, emit func(masterEvent)) (*masterRunner, error) {
	r := &masterRunner{
		params:     sched.params,
		emit:       emit,
		actions:    make(chan func(*masterRunner), 16),
		probeEvery: ticksOf(sched.probe),
		pollEvery:  ticksOf(sched.poll),
		expire:     rtrans.TicksFromDuration(sched.expire),
	}

	var err error

	cfg.OnPackageDone = r.packageDone
	r.station, err = rtrans.NewStation(cfg, radio, clock, rtrans.HandlerFunc(r.handleSegment))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func ticksOf(d time.Duration) uint64 {
	return uint64(rtrans.TicksFromDuration(d))
}

// parseParams turns name=value flags into SET parameters
func parseParams(pairs []string) (rapp.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	names := map[string]int{"interval": rapp.ParamInterval, "history": rapp.ParamHistory}
	p := rapp.Params{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Errorf("--set %q: expected name=value", pair)
		}
		key, ok := names[strings.TrimSpace(name)]
		if !ok {
			return nil, errors.Errorf("--set %q: unknown parameter (interval, history)", pair)
		}
		var v int64
		if _, err := fmt.Sscan(value, &v); err != nil {
			return nil, errors.Wrapf(err, "--set %q", pair)
		}
		p[key] = v
	}
	if _, err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "--set")
	}
	return p, nil
}

func (r *masterRunner) event(isError bool, format string, args ...interface{}) {
	r.emit(masterEvent{at: time.Now(), message: fmt.Sprintf(format, args...), isError: isError})
}

// tick runs queued UI actions, then one transport pass
func (r *masterRunner) tick() error {
	for {
		select {
		case action := <-r.actions:
			action(r)
		default:
			return r.station.Tick()
		}
	}
}

// schedule runs after every tick with the tick count
func (r *masterRunner) schedule(n uint64) {
	if n == 1 || (r.probeEvery > 0 && n%r.probeEvery == 0) {
		r.probe()
	}
	if r.pollEvery > 0 && n%r.pollEvery == 0 {
		for _, p := range r.station.Peers() {
			r.poll(p.Address)
		}
	}
	if r.expire > 0 && n%rtrans.TicksPerSecond == 0 {
		for _, addr := range r.station.Expire(r.expire) {
			r.event(true, "Slave %s expired", rtrans.FormatAddress(addr))
		}
	}
	if r.metrics != nil {
		r.metrics.SetPeers(len(r.station.Peers()))
	}
}

func (r *masterRunner) probe() {
	if err := r.station.Probe(); err != nil {
		r.event(true, "PROBE not sent: %v", err)
		return
	}
	logrus.Debug("PROBE broadcast")
}

func (r *masterRunner) poll(addr uint16) {
	if err := r.station.Poll(addr); err != nil {
		r.event(true, "POLL not sent: %v", err)
	}
}

func (r *masterRunner) handleSegment(h rtrans.AbbrevHeader, payload []byte) {
	from := rtrans.FormatAddress(h.Slave)

	switch h.Type {
	case rtrans.TypeJoin:
		r.event(false, "Join from %s", from)
		if r.params != nil {
			r.sendParams(h.Slave)
		}
		r.poll(h.Slave)

	case rtrans.TypeData:
		r.dataPackages++
		r.event(false, "Data from %s:\n%s", from, rapp.Describe(h.Type, payload))

	case rtrans.TypeErr:
		r.event(true, "Error from %s: %s", from, rapp.Describe(h.Type, payload))

	default:
		r.event(false, "%s from %s", h.Type, from)
	}
}

func (r *masterRunner) sendParams(addr uint16) {
	data, err := rapp.EncodeParams(r.params)
	if err != nil {
		r.event(true, "SET not encoded: %v", err)
		return
	}
	if err := r.station.Set(addr, data); err != nil {
		r.event(true, "SET not sent: %v", err)
	}
}

func (r *masterRunner) packageDone(res rtrans.PackageResult) {
	if res.Delivered || res.Dest == rtrans.AddressBroadcast {
		return
	}
	r.event(true, "%s to %s abandoned (pkg %d)", res.Type, rtrans.FormatAddress(res.Dest), res.PkgNo)
}

func runMaster(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	radio, addr, connInfo, err := OpenRadio(ctx)
	if err != nil {
		return err
	}
	defer radio.Close()

	cfg, err := linkConfig(rtrans.RoleMaster, addr)
	if err != nil {
		return err
	}
	sched, err := scheduleFromFlags()
	if err != nil {
		return err
	}

	var program *tea.Program
	emit := func(e masterEvent) {
		if program != nil {
			program.Send(eventMsg(e))
			return
		}
		prefix := ""
		if e.isError {
			prefix = "[ERROR] "
		}
		fmt.Printf("[%s] %s%s\n", e.at.Format("15:04:05.000"), prefix, e.message)
	}

	runner, err := newMasterRunner(cfg, radio, rtrans.NewSystemClock(), sched, emit)
	if err != nil {
		return err
	}

	if masterMetricsAddr != "" {
		runner.metrics = newLinkMetrics(runner.station.Transport().Stats(), radio.ByteRate)
		runner.metrics.Serve(ctx, masterMetricsAddr)
	}

	if !masterTUI {
		fmt.Printf("rtrans - Master Station\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Address: %s\n", rtrans.FormatAddress(addr))
		fmt.Printf("Press Ctrl+C to exit\n\n")

		driveLoop(ctx, radio.Done(), runner.tick, runner.schedule)
		fmt.Printf("\nDATA packages received: %d\n", runner.dataPackages)
		fmt.Printf("%s", runner.station.Transport().Stats())
		return nil
	}

	// Log output would corrupt the alternate screen
	logrus.SetLevel(logrus.ErrorLevel)

	model := initialMasterModel(connInfo, addr, runner.station.Transport().Stats(), runner.actions)
	program = tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		driveLoop(ctx, radio.Done(), runner.tick, func(n uint64) {
			runner.schedule(n)
			if n%rtrans.TicksPerSecond == 0 {
				program.Send(peersMsg{peers: runner.station.Peers(), state: runner.station.Transport().State()})
			}
		})
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		return errors.Wrap(err, "run TUI")
	}
	stop()
	return nil
}
