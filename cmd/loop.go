// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

// tickPeriod is the wall-clock length of one transport tick
const tickPeriod = time.Second / rtrans.TicksPerSecond

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// driveLoop calls tick once per tick period until ctx is done or the radio
// connection ends. Tick errors are recoverable and only logged. every is
// called after each tick with the tick count.
func driveLoop(ctx context.Context, done <-chan struct{}, tick func() error, every func(n uint64)) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			logrus.Warn("Radio connection lost")
			return
		case <-ticker.C:
		}

		if err := tick(); err != nil {
			for _, e := range multierr.Errors(err) {
				logrus.WithError(e).Debug("Tick")
			}
		}
		n++
		if every != nil {
			every(n)
		}
	}
}
