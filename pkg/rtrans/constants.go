// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rtrans implements the rtrans reliable transport protocol.
//
// rtrans runs between a master and one or more slaves over a lossy,
// small-MTU packet radio link. Applications hand whole packages to the
// transport; packages are split into checksummed segments, sent one at a
// time (stop-and-wait), retransmitted on timeout and abandoned after a
// bounded number of attempts. Inbound segments are validated, acknowledged
// and delivered to a handler exactly once.
//
// The engine is single-threaded and non-blocking. The host calls
// Transport.Tick repeatedly; nothing in this package starts a goroutine.
package rtrans

// Wire layout sizes
const (
	HeaderSize       = 10 // master(2) slave(2) pkg_no(2) type(1) seg_ct(1) seg_no(1) len(1)
	AbbrevHeaderSize = 6  // master(2) slave(2) type(1) len(1)
	ChecksumSize     = 1
	SegmentOverhead  = HeaderSize + ChecksumSize
)

// Link defaults
const (
	DefaultPacketSize  = 100 // XBee 802.15.4 MTU
	DefaultRetxLimit   = 4
	DefaultRetxTimeout = Tick(200)
	DefaultMaxSegments = 6

	// maxFramesPerTick bounds the number of radio frames handled by one Tick
	maxFramesPerTick = 16
)

// Special addresses
const (
	NoMaster         = 0xFFFF // master address of an unpaired node
	AddressBroadcast = 0xFFFF // 802.15.4 16-bit broadcast
)

// MessageType is the type byte of a segment
type MessageType uint8

// Message types
const (
	TypeProbe MessageType = 0   // master → slaves, broadcast discovery
	TypeJoin  MessageType = 1   // slave → master, answer to PROBE
	TypePoll  MessageType = 2   // master → slave, request for data
	TypeData  MessageType = 3   // slave → master, sensing data
	TypeSet   MessageType = 4   // master → slave, control parameters
	TypeErr   MessageType = 5   // slave → master, hardware error report
	TypeAck   MessageType = 254 // positive acknowledgment
	TypeNak   MessageType = 255 // negative acknowledgment, abandons the package
)

// IsControl reports whether t is an ACK or NAK
func (t MessageType) IsControl() bool {
	return t == TypeAck || t == TypeNak
}

// IsKnown reports whether t is one of the defined message types
func (t MessageType) IsKnown() bool {
	return t <= TypeErr || t.IsControl()
}

// String returns the protocol name of the message type
func (t MessageType) String() string {
	return FormatMessageType(t)
}

// Role selects which header address field identifies the peer
type Role int

const (
	// RoleSlave nodes address frames to the configured master
	RoleSlave Role = iota
	// RoleMaster nodes address frames to the slave named in each package
	RoleMaster
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}
	return "slave"
}
