// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AckPolicy decides whether an accepted data-bearing segment is acknowledged
type AckPolicy func(h Header) bool

// DefaultAckPolicy acknowledges every data-bearing segment except a PROBE
// addressed to the broadcast address.
func DefaultAckPolicy(h Header) bool {
	return !(h.Type == TypeProbe && h.Slave == AddressBroadcast)
}

// PackageResult reports the end of a package's life in the transmit queue
type PackageResult struct {
	PkgNo     uint16
	Type      MessageType
	Dest      uint16
	Delivered bool // false when NAKed or abandoned after RetxLimit retries
}

// Config holds the parameters of one transport node
type Config struct {
	// Address is this node's 16-bit address
	Address uint16
	// Master is the initial master address of a slave node, NoMaster when
	// unpaired. Ignored for masters.
	Master uint16
	Role   Role

	// PacketSize is the radio MTU in bytes, header and checksum included
	PacketSize  int
	MaxSegments int
	RetxLimit   int
	RetxTimeout Tick

	// AckPolicy defaults to DefaultAckPolicy when nil
	AckPolicy AckPolicy

	// OnPackageDone is called from Tick when a package is delivered or dropped
	OnPackageDone func(PackageResult)

	// Logger defaults to the standard logrus logger
	Logger *logrus.Entry
	// Stats defaults to a fresh Statistics
	Stats *Statistics
}

// DefaultConfig returns the configuration of an unpaired slave with the
// contract link constants.
func DefaultConfig() Config {
	return Config{
		Address:     0,
		Master:      NoMaster,
		Role:        RoleSlave,
		PacketSize:  DefaultPacketSize,
		MaxSegments: DefaultMaxSegments,
		RetxLimit:   DefaultRetxLimit,
		RetxTimeout: DefaultRetxTimeout,
	}
}

// MaxPayload returns the largest payload a single segment can carry
func (c Config) MaxPayload() int {
	return c.PacketSize - SegmentOverhead
}

// TxQueueSize returns the transmit ring buffer capacity
func (c Config) TxQueueSize() int {
	return c.MaxSegments * c.PacketSize
}

// RxQueueSize returns the receive ring buffer capacity, room for two
// maximum-size abbreviated records.
func (c Config) RxQueueSize() int {
	return 2 * (c.MaxPayload() + AbbrevHeaderSize)
}

// Validate checks the configuration for values the transport cannot run with
func (c Config) Validate() error {
	if c.PacketSize <= SegmentOverhead {
		return errors.Wrapf(ErrInvalidConfig, "packet size %d leaves no room for payload (overhead %d)", c.PacketSize, SegmentOverhead)
	}
	if c.MaxPayload() > 0xFF {
		return errors.Wrapf(ErrInvalidConfig, "packet size %d exceeds the one-byte length field", c.PacketSize)
	}
	if c.MaxSegments < 1 || c.MaxSegments > 0xFF {
		return errors.Wrapf(ErrInvalidConfig, "max segments %d out of range 1-255", c.MaxSegments)
	}
	if c.RetxLimit < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative retransmit limit %d", c.RetxLimit)
	}
	if c.RetxTimeout == 0 {
		return errors.Wrap(ErrInvalidConfig, "retransmit timeout must be positive")
	}
	if c.Address == AddressBroadcast {
		return errors.Wrap(ErrInvalidConfig, "node address cannot be the broadcast address")
	}
	if c.Role != RoleMaster && c.Role != RoleSlave {
		return errors.Wrapf(ErrInvalidConfig, "unknown role %d", c.Role)
	}
	return nil
}
