// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rapp

import (
	"math/rand"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

// Sensor produces readings for a node
type Sensor interface {
	Sample(now rtrans.Tick) (Reading, error)
}

// SensorFunc adapts a function to the Sensor interface
type SensorFunc func(now rtrans.Tick) (Reading, error)

// Sample implements Sensor
func (f SensorFunc) Sample(now rtrans.Tick) (Reading, error) {
	return f(now)
}

// SimSensor generates plausible battery readings
type SimSensor struct {
	rng *rand.Rand
}

// NewSimSensor creates a simulated sensor with a deterministic seed
func NewSimSensor(seed int64) *SimSensor {
	return &SimSensor{rng: rand.New(rand.NewSource(seed))}
}

// Sample implements Sensor
func (s *SimSensor) Sample(now rtrans.Tick) (Reading, error) {
	return Reading{
		Timestamp:   uint32(now / rtrans.TicksPerSecond),
		Voltage:     uint16(12000 + s.rng.Intn(800)),
		Current:     uint16(200 + s.rng.Intn(150)),
		Temperature: int16(180 + s.rng.Intn(60)),
	}, nil
}

// NodeStats counts application events of a node
type NodeStats struct {
	Probes    uint64
	Polls     uint64
	Sets      uint64
	Readings  uint64 // readings sent in DATA packages
	Errors    uint64 // ERR packages queued
	SendFails uint64
}

// Node is a sensing slave. It joins the first master that probes it while
// unpaired, samples its sensor on the configured interval, answers POLL with
// the readings taken since the last DATA and applies SET parameters.
type Node struct {
	t      *rtrans.Transport
	clock  rtrans.Clock
	sensor Sensor
	log    *logrus.Entry

	params     Params
	history    []Reading
	lastSample rtrans.Tick
	sampled    bool
	stats      NodeStats
}

// NewNode creates a slave node. cfg.Role is forced to RoleSlave.
func NewNode(cfg rtrans.Config, radio rtrans.Radio, clock rtrans.Clock, sensor Sensor) (*Node, error) {
	cfg.Role = rtrans.RoleSlave
	n := &Node{
		clock:  clock,
		sensor: sensor,
		params: DefaultParams(),
	}

	t, err := rtrans.New(cfg, radio, clock, n)
	if err != nil {
		return nil, err
	}
	n.t = t
	n.log = cfg.Logger
	if n.log == nil {
		n.log = logrus.NewEntry(logrus.StandardLogger())
	}
	n.log = n.log.WithField("app", "rapp")
	return n, nil
}

// Transport returns the node's underlying transport
func (n *Node) Transport() *rtrans.Transport {
	return n.t
}

// Stats returns a copy of the node's application counters
func (n *Node) Stats() NodeStats {
	return n.stats
}

// Params returns a copy of the active parameters
func (n *Node) Params() Params {
	p := make(Params, len(n.params))
	for k, v := range n.params {
		p[k] = v
	}
	return p
}

// History returns the readings waiting for the next poll
func (n *Node) History() []Reading {
	return append([]Reading(nil), n.history...)
}

// Tick samples the sensor when the interval elapsed and runs the transport
// driver loop.
func (n *Node) Tick() error {
	now := n.clock.Now()
	if !n.sampled || now-n.lastSample >= rtrans.Tick(n.params[ParamInterval]) {
		n.sample(now)
	}
	return n.t.Tick()
}

func (n *Node) sample(now rtrans.Tick) {
	n.lastSample = now
	n.sampled = true

	r, err := n.sensor.Sample(now)
	if err != nil {
		n.log.WithError(err).Warn("Sensor read failed")
		if n.t.Paired() {
			n.sendError(ErrCodeSensor, err.Error())
		}
		return
	}

	n.history = append(n.history, r)
	if limit := int(n.params[ParamHistory]); len(n.history) > limit {
		n.history = n.history[len(n.history)-limit:]
	}
}

// HandleSegment implements rtrans.Handler
func (n *Node) HandleSegment(h rtrans.AbbrevHeader, payload []byte) {
	switch h.Type {
	case rtrans.TypeProbe:
		n.stats.Probes++
		if n.t.State() != rtrans.StateUnpaired {
			return
		}
		if _, err := n.t.Join(h.Master); err != nil {
			n.stats.SendFails++
			n.log.WithError(err).Warn("Join failed")
		}

	case rtrans.TypePoll:
		if !n.fromMaster(h) {
			return
		}
		n.stats.Polls++
		n.sendData()

	case rtrans.TypeSet:
		if !n.fromMaster(h) {
			return
		}
		n.stats.Sets++
		n.applySet(payload)

	default:
		n.log.WithFields(logrus.Fields{"type": h.Type, "master": rtrans.FormatAddress(h.Master)}).Debug("Ignoring package")
	}
}

func (n *Node) fromMaster(h rtrans.AbbrevHeader) bool {
	if n.t.Paired() && h.Master == n.t.Master() {
		return true
	}
	n.log.WithFields(logrus.Fields{"type": h.Type, "master": rtrans.FormatAddress(h.Master)}).Debug("Package from foreign master")
	return false
}

func (n *Node) sendData() {
	if len(n.history) == 0 {
		n.sample(n.clock.Now())
	}

	limit := n.t.Config().MaxPayload()
	data, count, err := EncodeReadings(n.history, limit)
	if err != nil {
		n.log.WithError(err).Error("Encode readings failed")
		return
	}
	if _, err := n.t.Send(rtrans.TypeData, data); err != nil {
		n.stats.SendFails++
		n.log.WithError(err).Warn("DATA not queued")
		return
	}

	n.history = n.history[count:]
	n.stats.Readings += uint64(count)
	n.log.WithFields(logrus.Fields{"readings": count, "bytes": len(data)}).Debug("DATA queued")
}

func (n *Node) applySet(payload []byte) {
	p, err := DecodeParams(payload)
	if err != nil {
		n.sendError(ErrCodeBadPayload, err.Error())
		return
	}
	if code, err := p.Validate(); err != nil {
		n.sendError(code, err.Error())
		return
	}

	for k, v := range p {
		n.params[k] = v
	}
	if limit := int(n.params[ParamHistory]); len(n.history) > limit {
		n.history = n.history[len(n.history)-limit:]
	}
	n.log.WithFields(logrus.Fields{"params": map[int]int64(p)}).Info("Parameters updated")
}

func (n *Node) sendError(code uint8, message string) {
	limit := n.t.Config().MaxPayload()
	for {
		data, err := EncodeError(code, message)
		if err != nil {
			n.log.WithError(err).Error("Encode error report failed")
			return
		}
		if len(data) <= limit || message == "" {
			if _, err := n.t.Send(rtrans.TypeErr, data); err != nil {
				n.stats.SendFails++
				n.log.WithError(err).Warn("ERR not queued")
				return
			}
			n.stats.Errors++
			return
		}
		message = truncateRunes(message, len(message)/2)
	}
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence
func truncateRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
