// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import "github.com/pkg/errors"

// Decoder states
const (
	stateIdle = iota
	stateLengthMSB
	stateLengthLSB
	stateData
	stateChecksum
)

// Decoder implements the API frame decoder state machine
type Decoder struct {
	escaped    bool // API mode 2
	state      int
	escapeNext bool
	length     int
	buffer     []byte
	bufferLen  int
}

// NewDecoder creates a new frame decoder. With escaped set the decoder
// expects API mode 2 byte escaping.
func NewDecoder(escaped bool) *Decoder {
	return &Decoder{
		escaped: escaped,
		state:   stateIdle,
		buffer:  make([]byte, MaxFrameData),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.length = 0
	d.bufferLen = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete. The frame's
// Data aliases the decoder buffer and is only valid until the next call.
// Returns an error if decoding fails; the decoder then waits for the next
// start delimiter.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	// In API mode 2 an unescaped delimiter always starts a new frame
	if b == StartDelimiter && (d.escaped || d.state == stateIdle) {
		d.Reset()
		d.state = stateLengthMSB
		return nil, nil
	}

	if d.escaped && d.state != stateIdle {
		if b == EscapeByte && !d.escapeNext {
			d.escapeNext = true
			return nil, nil
		}
		if d.escapeNext {
			b ^= EscapeXor
			d.escapeNext = false
		}
	}

	switch d.state {
	case stateIdle:
		// Waiting for start delimiter
		return nil, nil

	case stateLengthMSB:
		d.length = int(b) << 8
		d.state = stateLengthLSB
		return nil, nil

	case stateLengthLSB:
		d.length |= int(b)
		if d.length == 0 || d.length > MaxFrameData {
			n := d.length
			d.Reset()
			return nil, errors.Wrapf(ErrFrameTooLong, "declared length %d (max %d)", n, MaxFrameData)
		}
		d.state = stateData
		return nil, nil

	case stateData:
		d.buffer[d.bufferLen] = b
		d.bufferLen++
		if d.bufferLen >= d.length {
			d.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		data := d.buffer[:d.bufferLen]
		d.Reset()
		if want := Checksum(data); b != want {
			return nil, errors.Wrapf(ErrChecksum, "expected 0x%02X, got 0x%02X", want, b)
		}
		return &Frame{API: data[0], Data: data[1:]}, nil

	default:
		state := d.state
		d.Reset()
		return nil, errors.Errorf("invalid decoder state: %d", state)
	}
}
