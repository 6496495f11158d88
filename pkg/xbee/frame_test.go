// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, d *Decoder, data []byte) []Frame {
	t.Helper()
	var frames []Frame
	for _, b := range data {
		f, err := d.DecodeByte(b)
		require.NoError(t, err)
		if f != nil {
			frames = append(frames, Frame{API: f.API, Data: append([]byte(nil), f.Data...)})
		}
	}
	return frames
}

func TestEncodeATCommand_KnownVector(t *testing.T) {
	// AT NJ with frame ID 0x52, from the XBee 802.15.4 manual
	frame, err := EncodeATCommand(0x52, "NJ", nil, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E, 0x00, 0x04, 0x08, 0x52, 0x4E, 0x4A, 0x0D}, frame)
}

func TestEncodeTx16_Layout(t *testing.T) {
	frame, err := EncodeTx16(0x01, 0x1234, OptionDisableAck, []byte{0xAA}, false)
	require.NoError(t, err)

	// delimiter, length 6, api, id, dest MSB, dest LSB, options, data, checksum
	require.Len(t, frame, 10)
	assert.Equal(t, []byte{0x7E, 0x00, 0x06, APITx16, 0x01, 0x12, 0x34, OptionDisableAck, 0xAA}, frame[:9])
	assert.Equal(t, Checksum(frame[3:9]), frame[9])
}

func TestEncodeFrame_Escaping(t *testing.T) {
	data := []byte{0x7E, 0x7D, 0x11, 0x13, 0x42}
	frame, err := EncodeFrame(APITx16, data, true)
	require.NoError(t, err)

	assert.Equal(t, byte(StartDelimiter), frame[0])
	for i, b := range frame[1:] {
		assert.NotEqual(t, byte(StartDelimiter), b, "raw delimiter at %d", i+1)
		assert.NotEqual(t, byte(XON), b)
		assert.NotEqual(t, byte(XOFF), b)
	}

	frames := decodeAll(t, NewDecoder(true), frame)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(APITx16), frames[0].API)
	assert.Equal(t, data, frames[0].Data)
}

func TestEncodeFrame_TooLong(t *testing.T) {
	_, err := EncodeFrame(APITx16, make([]byte, MaxFrameData), false)
	assert.True(t, errors.Is(err, ErrFrameTooLong))

	_, err = EncodeTx16(0, 1, 0, make([]byte, MaxTx16Payload+1), false)
	assert.True(t, errors.Is(err, ErrFrameTooLong))

	_, err = EncodeATCommand(1, "MYX", nil, false)
	assert.Error(t, err)
}

func TestDecoder_RoundTrip(t *testing.T) {
	for _, escaped := range []bool{false, true} {
		payload := make([]byte, MaxTx16Payload)
		for i := range payload {
			payload[i] = byte(0x70 + i%32) // crosses 0x7D and 0x7E
		}
		frame, err := EncodeTx16(0x00, 0xFFFF, 0, payload, escaped)
		require.NoError(t, err)

		frames := decodeAll(t, NewDecoder(escaped), frame)
		require.Len(t, frames, 1, "escaped=%v", escaped)
		assert.Equal(t, byte(APITx16), frames[0].API)
		assert.Equal(t, payload, frames[0].Data[4:])
	}
}

func TestDecoder_ChecksumError(t *testing.T) {
	frame, err := EncodeATCommand(1, "SL", nil, true)
	require.NoError(t, err)
	frame[len(frame)-1]++

	d := NewDecoder(true)
	var gotErr error
	for _, b := range frame {
		if _, err := d.DecodeByte(b); err != nil {
			gotErr = err
		}
	}
	assert.True(t, errors.Is(gotErr, ErrChecksum))
}

func TestDecoder_ResyncOnDelimiter(t *testing.T) {
	good, err := EncodeATCommand(7, "MY", []byte{0x00, 0x02}, true)
	require.NoError(t, err)

	// truncated frame followed by a complete one
	stream := append([]byte{0x7E, 0x00, 0x10, 0x81, 0x01}, good...)
	frames := decodeAll(t, NewDecoder(true), stream)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(APIATCommand), frames[0].API)
}

func TestDecoder_IgnoresNoise(t *testing.T) {
	good, err := EncodeATCommand(7, "SL", nil, false)
	require.NoError(t, err)
	stream := append([]byte{0x00, 0x13, 0xFF}, good...)

	frames := decodeAll(t, NewDecoder(false), stream)
	assert.Len(t, frames, 1)
}

func TestDecoder_BadLength(t *testing.T) {
	d := NewDecoder(false)
	_, _ = d.DecodeByte(StartDelimiter)
	_, _ = d.DecodeByte(0x01)
	_, err := d.DecodeByte(0x00)
	assert.True(t, errors.Is(err, ErrFrameTooLong))
}

func TestParseFrames(t *testing.T) {
	rx, err := ParseRx16(Frame{API: APIRx16, Data: []byte{0x00, 0x02, 0x28, 0x00, 0xDE, 0xAD}})
	require.NoError(t, err)
	assert.Equal(t, Rx16{Source: 0x0002, RSSI: 0x28, Options: 0, Data: []byte{0xDE, 0xAD}}, rx)

	at, err := ParseATResponse(Frame{API: APIATResponse, Data: []byte{0x01, 'S', 'L', 0x00, 0x40, 0xA1}})
	require.NoError(t, err)
	assert.Equal(t, "SL", at.Command)
	assert.Equal(t, []byte{0x40, 0xA1}, at.Data)

	st, err := ParseTxStatus(Frame{API: APITxStatus, Data: []byte{0x05, TxStatusNoAck}})
	require.NoError(t, err)
	assert.Equal(t, TxStatus{FrameID: 5, Status: TxStatusNoAck}, st)

	_, err = ParseRx16(Frame{API: APIRx16, Data: []byte{0x00}})
	assert.True(t, errors.Is(err, ErrFrameTooShort))
	_, err = ParseATResponse(Frame{API: APIRx16})
	assert.True(t, errors.Is(err, ErrUnexpectedAPI))
}

func TestFormatAPI(t *testing.T) {
	assert.Equal(t, "RX16", FormatAPI(APIRx16))
	assert.Equal(t, "UNKNOWN", FormatAPI(0x42))
}
