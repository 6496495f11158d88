// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package xbee implements the XBee 802.15.4 API frame protocol with 16-bit
// addressing, and a radio adapter for the rtrans transport.
package xbee

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Framing bytes
const (
	StartDelimiter = 0x7E
	EscapeByte     = 0x7D
	XON            = 0x11
	XOFF           = 0x13
	EscapeXor      = 0x20
)

// API identifiers
const (
	APITx16        = 0x01
	APIATCommand   = 0x08
	APIRx16        = 0x81
	APIATResponse  = 0x88
	APITxStatus    = 0x89
	APIModemStatus = 0x8A
)

// Size limits
const (
	MaxFrameData   = 128 // API id included
	MaxTx16Payload = 100
)

// AddressBroadcast is the 16-bit broadcast address
const AddressBroadcast = 0xFFFF

// TX request options
const (
	OptionDisableAck   = 0x01
	OptionBroadcastPAN = 0x04
)

// AT command status values
const (
	ATStatusOK             = 0
	ATStatusError          = 1
	ATStatusInvalidCommand = 2
	ATStatusInvalidParam   = 3
)

// TX status values
const (
	TxStatusSuccess = 0
	TxStatusNoAck   = 1
	TxStatusCCAFail = 2
	TxStatusPurged  = 3
)

var (
	ErrChecksum      = errors.New("frame checksum mismatch")
	ErrFrameTooLong  = errors.New("frame exceeds maximum length")
	ErrFrameTooShort = errors.New("frame too short for API type")
	ErrUnexpectedAPI = errors.New("unexpected API identifier")
)

// Frame is one decoded API frame
type Frame struct {
	API  byte
	Data []byte // bytes after the API identifier
}

// Checksum returns 0xFF minus the low byte of the sum of the frame data
func Checksum(apiData []byte) byte {
	var sum byte
	for _, b := range apiData {
		sum += b
	}
	return 0xFF - sum
}

// needsEscape reports whether b must be escaped in API mode 2
func needsEscape(b byte) bool {
	return b == StartDelimiter || b == EscapeByte || b == XON || b == XOFF
}

// escapeBytes applies API mode 2 escaping
func escapeBytes(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if needsEscape(b) {
			out = append(out, EscapeByte, b^EscapeXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// EncodeFrame builds a complete API frame: delimiter, big-endian length,
// API identifier, data and checksum. With escaped set, every byte after the
// delimiter is escaped as in API mode 2.
func EncodeFrame(api byte, data []byte, escaped bool) ([]byte, error) {
	n := 1 + len(data)
	if n > MaxFrameData {
		return nil, errors.Wrapf(ErrFrameTooLong, "%d bytes (max %d)", n, MaxFrameData)
	}

	body := make([]byte, 0, n+3)
	body = append(body, byte(n>>8), byte(n))
	body = append(body, api)
	body = append(body, data...)
	body = append(body, Checksum(body[2:]))

	if escaped {
		body = escapeBytes(body)
	}

	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, StartDelimiter)
	return append(frame, body...), nil
}

// EncodeTx16 builds a TX request with 16-bit destination address
func EncodeTx16(frameID byte, dest uint16, options byte, payload []byte, escaped bool) ([]byte, error) {
	if len(payload) > MaxTx16Payload {
		return nil, errors.Wrapf(ErrFrameTooLong, "TX16 payload %d bytes (max %d)", len(payload), MaxTx16Payload)
	}
	data := make([]byte, 4+len(payload))
	data[0] = frameID
	binary.BigEndian.PutUint16(data[1:], dest)
	data[3] = options
	copy(data[4:], payload)
	return EncodeFrame(APITx16, data, escaped)
}

// EncodeATCommand builds a local AT command frame
func EncodeATCommand(frameID byte, command string, params []byte, escaped bool) ([]byte, error) {
	if len(command) != 2 {
		return nil, errors.Errorf("AT command must be two characters, got %q", command)
	}
	data := make([]byte, 3+len(params))
	data[0] = frameID
	data[1] = command[0]
	data[2] = command[1]
	copy(data[3:], params)
	return EncodeFrame(APIATCommand, data, escaped)
}

// Rx16 is a received packet with 16-bit source address
type Rx16 struct {
	Source  uint16
	RSSI    byte // -dBm
	Options byte
	Data    []byte
}

// ParseRx16 decodes an RX16 frame. Data aliases the frame.
func ParseRx16(f Frame) (Rx16, error) {
	if f.API != APIRx16 {
		return Rx16{}, errors.Wrapf(ErrUnexpectedAPI, "0x%02X", f.API)
	}
	if len(f.Data) < 4 {
		return Rx16{}, errors.Wrapf(ErrFrameTooShort, "RX16 with %d bytes", len(f.Data))
	}
	return Rx16{
		Source:  binary.BigEndian.Uint16(f.Data[0:]),
		RSSI:    f.Data[2],
		Options: f.Data[3],
		Data:    f.Data[4:],
	}, nil
}

// ATResponse is the reply to a local AT command
type ATResponse struct {
	FrameID byte
	Command string
	Status  byte
	Data    []byte
}

// ParseATResponse decodes an AT command response frame
func ParseATResponse(f Frame) (ATResponse, error) {
	if f.API != APIATResponse {
		return ATResponse{}, errors.Wrapf(ErrUnexpectedAPI, "0x%02X", f.API)
	}
	if len(f.Data) < 4 {
		return ATResponse{}, errors.Wrapf(ErrFrameTooShort, "AT response with %d bytes", len(f.Data))
	}
	return ATResponse{
		FrameID: f.Data[0],
		Command: string(f.Data[1:3]),
		Status:  f.Data[3],
		Data:    f.Data[4:],
	}, nil
}

// TxStatus reports the outcome of a TX request with a non-zero frame ID
type TxStatus struct {
	FrameID byte
	Status  byte
}

// ParseTxStatus decodes a TX status frame
func ParseTxStatus(f Frame) (TxStatus, error) {
	if f.API != APITxStatus {
		return TxStatus{}, errors.Wrapf(ErrUnexpectedAPI, "0x%02X", f.API)
	}
	if len(f.Data) < 2 {
		return TxStatus{}, errors.Wrapf(ErrFrameTooShort, "TX status with %d bytes", len(f.Data))
	}
	return TxStatus{FrameID: f.Data[0], Status: f.Data[1]}, nil
}

// FormatAPI returns the human-readable name for an API identifier
func FormatAPI(api byte) string {
	switch api {
	case APITx16:
		return "TX16"
	case APIATCommand:
		return "AT_COMMAND"
	case APIRx16:
		return "RX16"
	case APIATResponse:
		return "AT_RESPONSE"
	case APITxStatus:
		return "TX_STATUS"
	case APIModemStatus:
		return "MODEM_STATUS"
	default:
		return "UNKNOWN"
	}
}
