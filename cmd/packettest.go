// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
	"github.com/Thermoquad/rtrans/pkg/xbee"
)

var (
	packetTestTimeout int
)

type receivedSegment struct {
	source uint16
	rssi   byte
	header rtrans.Header
}

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test the link by waiting for a valid rtrans segment",
	Long: `Wait for a valid rtrans segment on the connection until timeout.

This command connects to a serial port or WebSocket and waits for an XBee RX16
frame carrying a complete rtrans segment whose checksum verifies. Invalid
bytes, other API frames and corrupted segments are skipped.

Exit codes:
  0 - Segment received before timeout
  1 - Timeout reached without receiving a valid segment
  2 - Connection error

Useful for checking that a slave or master is transmitting in range.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a segment")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("rtrans - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid rtrans segment...\n\n")

	decoder := xbee.NewDecoder(viper.GetBool("escaped"))
	buf := make([]byte, 128)

	segChan := make(chan receivedSegment, 1)
	errChan := make(chan error, 1)

	go func() {
		skipped := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil || frame == nil {
					continue
				}
				rx, err := xbee.ParseRx16(*frame)
				if err != nil {
					skipped++
					continue
				}
				h, _, err := rtrans.DecodeSegment(rx.Data)
				if err != nil {
					skipped++
					continue
				}
				if skipped > 0 {
					fmt.Printf("(skipped %d frames before a valid segment)\n", skipped)
				}
				segChan <- receivedSegment{source: rx.Source, rssi: rx.RSSI, header: h}
				return
			}
		}
	}()

	select {
	case seg := <-segChan:
		fmt.Printf("SUCCESS: Received valid segment\n")
		fmt.Printf("  Type: %s (0x%02X)\n", rtrans.FormatMessageType(seg.header.Type), uint8(seg.header.Type))
		fmt.Printf("  From: %s (RSSI -%d dBm)\n", rtrans.FormatAddress(seg.source), seg.rssi)
		fmt.Printf("  Master: %s  Slave: %s\n", rtrans.FormatAddress(seg.header.Master), rtrans.FormatAddress(seg.header.Slave))
		fmt.Printf("  Package: %d  Segment: %d/%d\n", seg.header.PkgNo, seg.header.SegNo+1, seg.header.SegCt)
		fmt.Printf("  Length: %d bytes\n", seg.header.Len)
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid segment received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
