// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import "github.com/pkg/errors"

// Admission errors, returned by Send and SendTo
var (
	ErrPackageTooLarge = errors.New("package exceeds maximum segment count")
	ErrQueueFull       = errors.New("transmit queue has no room for package")
	ErrNotPaired       = errors.New("node not paired with a master")
)

// Receive boundary errors. All are recoverable; the frame is dropped.
var (
	ErrShortFrame    = errors.New("frame shorter than declared length")
	ErrChecksum      = errors.New("checksum mismatch")
	ErrInvalidHeader = errors.New("invalid segment header")
	ErrRxQueueFull   = errors.New("receive queue full")
	ErrRxUnderflow   = errors.New("receive queue underflow")
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("invalid configuration")
