// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/rtrans/pkg/rapp"
	"github.com/Thermoquad/rtrans/pkg/rtrans"
	"github.com/Thermoquad/rtrans/pkg/xbee"
)

var rawLogDecode bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display received frames in human-readable format",
	Long: `Continuously decode and display XBee API frames as they arrive.

RX16 frames are decoded as rtrans segments, showing each header with its
payload as a hex dump. Checksum failures and header anomalies are reported
inline. With --decode, application payloads are decoded as well.

The local module is not reconfigured, so only frames addressed to its
current address or broadcast are shown.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogDecode, "decode", false, "Decode DATA, SET and ERR payloads")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("rtrans - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	maxPayload := viper.GetInt("packet-size") - rtrans.SegmentOverhead
	decoder := xbee.NewDecoder(viper.GetBool("escaped"))
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				logrus.Info("Connection closed")
				return nil
			}
			logrus.WithError(err).Warn("Read error")
			continue
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if frame != nil {
				fmt.Print(formatFrame(*frame, maxPayload, rawLogDecode))
			}
		}
	}
}

// formatFrame renders one API frame; RX16 frames are decoded as segments
func formatFrame(f xbee.Frame, maxPayload int, decode bool) string {
	stamp := time.Now().Format("15:04:05.000")

	if f.API != xbee.APIRx16 {
		return fmt.Sprintf("[%s] %s (0x%02X) %d bytes\n", stamp, xbee.FormatAPI(f.API), f.API, len(f.Data))
	}

	rx, err := xbee.ParseRx16(f)
	if err != nil {
		return fmt.Sprintf("[%s] [ERROR] %v\n", stamp, err)
	}
	prefix := fmt.Sprintf("[%s] from=%s rssi=-%ddBm ", stamp, rtrans.FormatAddress(rx.Source), rx.RSSI)

	h, payload, err := rtrans.DecodeSegment(rx.Data)
	if err != nil {
		return fmt.Sprintf("%s[ERROR] %v\n", prefix, err)
	}

	out := prefix + rtrans.FormatSegment(h, payload)
	for _, v := range rtrans.ValidateHeader(h, maxPayload) {
		out += fmt.Sprintf("  [ANOMALY] %s\n", v.Message)
	}
	if decode && len(payload) > 0 {
		switch h.Type {
		case rtrans.TypeData, rtrans.TypeSet, rtrans.TypeErr:
			out += rapp.Describe(h.Type, payload) + "\n"
		}
	}
	return out
}
