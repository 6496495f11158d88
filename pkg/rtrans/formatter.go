// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"fmt"
	"strings"
)

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(t MessageType) string {
	switch t {
	case TypeProbe:
		return "PROBE"
	case TypeJoin:
		return "JOIN"
	case TypePoll:
		return "POLL"
	case TypeData:
		return "DATA"
	case TypeSet:
		return "SET"
	case TypeErr:
		return "ERR"
	case TypeAck:
		return "ACK"
	case TypeNak:
		return "NAK"
	default:
		return "UNKNOWN"
	}
}

// FormatAddress renders a 16-bit node address, naming the broadcast address
func FormatAddress(addr uint16) string {
	if addr == AddressBroadcast {
		return "BCAST"
	}
	return fmt.Sprintf("0x%04X", addr)
}

// FormatHeader formats a segment header on one line
func FormatHeader(h Header) string {
	return fmt.Sprintf("%s (0x%02X) master=%s slave=%s pkg=%d seg=%d/%d len=%d",
		FormatMessageType(h.Type), uint8(h.Type),
		FormatAddress(h.Master), FormatAddress(h.Slave),
		h.PkgNo, h.SegNo+1, h.SegCt, h.Len)
}

// FormatSegment formats a header and its payload into a human-readable string
func FormatSegment(h Header, payload []byte) string {
	result := FormatHeader(h) + "\n"
	if len(payload) > 0 {
		result += FormatPayload(payload)
	}
	return result
}

// FormatPayload renders a payload as an indented hex dump, 16 bytes per row
func FormatPayload(payload []byte) string {
	var sb strings.Builder
	for off := 0; off < len(payload); off += 16 {
		end := off + 16
		if end > len(payload) {
			end = len(payload)
		}
		fmt.Fprintf(&sb, "  %04X ", off)
		for _, b := range payload[off:end] {
			fmt.Fprintf(&sb, " %02X", b)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
