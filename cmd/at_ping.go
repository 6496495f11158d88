// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/rtrans/pkg/xbee"
)

var (
	atPingTimeout int
	atPingCount   int
)

var atPingCmd = &cobra.Command{
	Use:   "at_ping",
	Short: "Test the local XBee module with AT commands",
	Long: `Send VR (firmware version) AT commands to the local XBee module and wait
for each response.

This command tests the host to module link without using the radio: the
connection is established, API framing matches --escaped, and the module
answers. Works over serial and over a WebSocket bridge.

Exit codes:
  0 - All commands answered
  1 - One or more commands failed or timed out
  2 - Connection error`,
	RunE: runATPing,
}

func init() {
	rootCmd.AddCommand(atPingCmd)
	atPingCmd.Flags().IntVar(&atPingTimeout, "timeout", 2, "Timeout in seconds for each command")
	atPingCmd.Flags().IntVar(&atPingCount, "count", 3, "Number of commands to send")
}

func runATPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	radio := xbee.New(conn,
		xbee.WithEscaping(viper.GetBool("escaped")),
		xbee.WithLogger(logrus.WithField("conn", connInfo)))
	defer radio.Close()

	fmt.Printf("rtrans - AT Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per command\n", atPingTimeout)
	fmt.Printf("Count: %d commands\n\n", atPingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= atPingCount; i++ {
		fmt.Printf("AT VR %d/%d: ", i, atPingCount)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(atPingTimeout)*time.Second)
		startTime := time.Now()
		version, err := radio.ATCommand(ctx, "VR", nil)
		cancel()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("firmware %X, rtt=%v\n", version, time.Since(startTime).Round(time.Millisecond))
			successCount++
		}

		if i < atPingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- AT statistics ---\n")
	fmt.Printf("%d commands sent, %d responses received, %.0f%% lost\n",
		atPingCount, successCount, float64(failCount)/float64(atPingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
