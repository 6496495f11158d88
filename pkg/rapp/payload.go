// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rapp implements the sensing application carried over rtrans:
// CBOR payloads for DATA, SET and ERR packages, and a slave node that joins
// a master and answers its polls with sensor readings.
package rapp

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

// Reading is one sensor sample
type Reading struct {
	Timestamp   uint32 `cbor:"0,keyasint"` // seconds since node start
	Voltage     uint16 `cbor:"1,keyasint"` // mV
	Current     uint16 `cbor:"2,keyasint"` // mA
	Temperature int16  `cbor:"3,keyasint"` // 0.1 °C
}

func (r Reading) String() string {
	return fmt.Sprintf("time=%d voltage=%dmV current=%dmA temp=%.1fC",
		r.Timestamp, r.Voltage, r.Current, float64(r.Temperature)/10)
}

// Params are node control parameters carried by SET, keyed by Param*
type Params map[int]int64

// Parameter keys
const (
	// ParamInterval is the sampling interval in ticks
	ParamInterval = 0
	// ParamHistory is the number of readings kept between polls
	ParamHistory = 1
)

// Parameter defaults and limits
const (
	DefaultInterval = 10
	DefaultHistory  = 8
	MaxHistory      = 64
)

// DefaultParams returns the parameters a node starts with
func DefaultParams() Params {
	return Params{
		ParamInterval: DefaultInterval,
		ParamHistory:  DefaultHistory,
	}
}

// Error codes carried in ERR packages
const (
	ErrCodeBadPayload   = 1
	ErrCodeUnknownParam = 2
	ErrCodeParamRange   = 3
	ErrCodeSensor       = 4
)

// ErrorReport is the payload of an ERR package
type ErrorReport struct {
	Code    uint8  `cbor:"0,keyasint"`
	Message string `cbor:"1,keyasint"`
}

func (e ErrorReport) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

var (
	ErrPayloadTooSmall = errors.New("payload limit too small for one reading")
	ErrBadPayload      = errors.New("malformed application payload")
)

// EncodeReadings encodes as many readings as fit in limit bytes, oldest
// first, and returns the payload with the number of readings it carries.
func EncodeReadings(readings []Reading, limit int) ([]byte, int, error) {
	least := 1
	if len(readings) == 0 {
		readings, least = []Reading{}, 0
	}
	for n := len(readings); n >= least; n-- {
		data, err := cbor.Marshal(readings[:n])
		if err != nil {
			return nil, 0, errors.Wrap(err, "encode readings")
		}
		if len(data) <= limit {
			return data, n, nil
		}
	}
	return nil, 0, errors.Wrapf(ErrPayloadTooSmall, "limit %d", limit)
}

// DecodeReadings decodes a DATA payload
func DecodeReadings(data []byte) ([]Reading, error) {
	var readings []Reading
	if err := cbor.Unmarshal(data, &readings); err != nil {
		return nil, errors.Wrapf(ErrBadPayload, "readings: %v", err)
	}
	return readings, nil
}

// EncodeParams encodes a SET payload
func EncodeParams(p Params) ([]byte, error) {
	data, err := cbor.Marshal(map[int]int64(p))
	if err != nil {
		return nil, errors.Wrap(err, "encode params")
	}
	return data, nil
}

// DecodeParams decodes a SET payload
func DecodeParams(data []byte) (Params, error) {
	var p map[int]int64
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(ErrBadPayload, "params: %v", err)
	}
	return Params(p), nil
}

// EncodeError encodes an ERR payload
func EncodeError(code uint8, message string) ([]byte, error) {
	data, err := cbor.Marshal(ErrorReport{Code: code, Message: message})
	if err != nil {
		return nil, errors.Wrap(err, "encode error report")
	}
	return data, nil
}

// DecodeError decodes an ERR payload
func DecodeError(data []byte) (ErrorReport, error) {
	var e ErrorReport
	if err := cbor.Unmarshal(data, &e); err != nil {
		return ErrorReport{}, errors.Wrapf(ErrBadPayload, "error report: %v", err)
	}
	return e, nil
}

// Validate checks known keys and ranges
func (p Params) Validate() (uint8, error) {
	for k, v := range p {
		switch k {
		case ParamInterval:
			if v < 1 || v > 36000 {
				return ErrCodeParamRange, errors.Errorf("interval %d out of range", v)
			}
		case ParamHistory:
			if v < 1 || v > MaxHistory {
				return ErrCodeParamRange, errors.Errorf("history %d out of range", v)
			}
		default:
			return ErrCodeUnknownParam, errors.Errorf("unknown parameter %d", k)
		}
	}
	return 0, nil
}

// Describe renders an application payload for logs and console output
func Describe(typ rtrans.MessageType, payload []byte) string {
	switch typ {
	case rtrans.TypeData:
		readings, err := DecodeReadings(payload)
		if err != nil {
			break
		}
		if len(readings) == 0 {
			return "no readings"
		}
		lines := make([]string, len(readings))
		for i, r := range readings {
			lines[i] = r.String()
		}
		return strings.Join(lines, "\n")

	case rtrans.TypeSet:
		p, err := DecodeParams(payload)
		if err != nil {
			break
		}
		return fmt.Sprintf("params %v", map[int]int64(p))

	case rtrans.TypeErr:
		e, err := DecodeError(payload)
		if err != nil {
			break
		}
		return e.Error()
	}

	if len(payload) == 0 {
		return ""
	}
	return strings.TrimRight(rtrans.FormatPayload(payload), "\n")
}
