// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

// Radio is the link layer below the transport.
//
// Send transmits one frame to a 16-bit address. The frame slice is owned by
// the transport and reused after Send returns; implementations that keep it
// must copy it. Poll returns the next received frame without blocking. The
// returned slice only needs to stay valid until the next call to Poll.
type Radio interface {
	Send(dest uint16, frame []byte) error
	Poll() ([]byte, bool)
}

// Handler receives validated inbound segments.
//
// HandleSegment is called synchronously from Transport.Tick. The payload
// slice is only valid for the duration of the call. Handlers may queue
// packages with Send, SendTo or Join but must not call Tick.
type Handler interface {
	HandleSegment(h AbbrevHeader, payload []byte)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(h AbbrevHeader, payload []byte)

// HandleSegment implements Handler
func (f HandlerFunc) HandleSegment(h AbbrevHeader, payload []byte) {
	f(h, payload)
}
