// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Peer is a slave known to a master station
type Peer struct {
	Address  uint16
	Joined   Tick
	LastSeen Tick
	Segments uint64 // data-bearing segments received
	Polls    uint64 // POLL packages queued
	LastType MessageType
}

// Station is the master side of an rtrans network. It owns a master
// Transport, keeps a table of slaves that answered a PROBE and forwards every
// delivered segment to the application handler.
type Station struct {
	t       *Transport
	clock   Clock
	handler Handler
	peers   map[uint16]*Peer
	log     *logrus.Entry
}

// NewStation creates a master station. cfg.Role is forced to RoleMaster.
func NewStation(cfg Config, radio Radio, clock Clock, handler Handler) (*Station, error) {
	cfg.Role = RoleMaster
	s := &Station{
		clock:   clock,
		handler: handler,
		peers:   make(map[uint16]*Peer),
	}

	t, err := New(cfg, radio, clock, s)
	if err != nil {
		return nil, err
	}
	s.t = t
	s.log = t.log
	return s, nil
}

// Transport returns the station's underlying transport
func (s *Station) Transport() *Transport {
	return s.t
}

// Tick runs one pass of the transport driver loop
func (s *Station) Tick() error {
	return s.t.Tick()
}

// Probe broadcasts a PROBE. Unpaired slaves answer with JOIN.
func (s *Station) Probe() error {
	_, err := s.t.SendTo(AddressBroadcast, TypeProbe, nil)
	return errors.Wrap(err, "probe")
}

// Poll asks a slave for data
func (s *Station) Poll(addr uint16) error {
	if addr == AddressBroadcast {
		return errors.Wrap(ErrInvalidHeader, "cannot poll the broadcast address")
	}
	if _, err := s.t.SendTo(addr, TypePoll, nil); err != nil {
		return errors.Wrapf(err, "poll %s", FormatAddress(addr))
	}
	if p, ok := s.peers[addr]; ok {
		p.Polls++
	}
	return nil
}

// Set sends a SET package with control parameters to a slave
func (s *Station) Set(addr uint16, payload []byte) error {
	if _, err := s.t.SendTo(addr, TypeSet, payload); err != nil {
		return errors.Wrapf(err, "set %s", FormatAddress(addr))
	}
	return nil
}

// Peer returns a copy of the table entry for addr
func (s *Station) Peer(addr uint16) (Peer, bool) {
	p, ok := s.peers[addr]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Peers returns a snapshot of the peer table ordered by address
func (s *Station) Peers() []Peer {
	peers := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, *p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// Expire removes peers not heard from for longer than maxAge and returns
// their addresses.
func (s *Station) Expire(maxAge Tick) []uint16 {
	now := s.clock.Now()
	var gone []uint16
	for addr, p := range s.peers {
		if now > p.LastSeen && now-p.LastSeen > maxAge {
			delete(s.peers, addr)
			gone = append(gone, addr)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, addr := range gone {
		s.log.WithFields(logrus.Fields{"slave": FormatAddress(addr)}).Info("Slave expired")
	}
	return gone
}

// HandleSegment implements Handler for the underlying transport
func (s *Station) HandleSegment(h AbbrevHeader, payload []byte) {
	now := s.clock.Now()
	addr := h.Slave

	if addr != AddressBroadcast {
		p, ok := s.peers[addr]
		if !ok && h.Type == TypeJoin {
			p = &Peer{Address: addr, Joined: now}
			s.peers[addr] = p
			s.log.WithFields(logrus.Fields{"slave": FormatAddress(addr)}).Info("Slave joined")
		}
		if p != nil {
			p.LastSeen = now
			p.LastType = h.Type
			p.Segments++
		}
	}

	if s.handler != nil {
		s.handler.HandleSegment(h, payload)
	}
}
