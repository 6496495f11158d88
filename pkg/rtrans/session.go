// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the pairing state of a node
type State int

const (
	StateUnpaired State = iota
	StateJoining
	StateIdle
	StateAwaitingAck
)

func (s State) String() string {
	switch s {
	case StateUnpaired:
		return "UNPAIRED"
	case StateJoining:
		return "JOINING"
	case StateIdle:
		return "IDLE"
	case StateAwaitingAck:
		return "AWAITING_ACK"
	default:
		return "UNKNOWN"
	}
}

// session holds the addressing and pairing state of one node
type session struct {
	address uint16
	master  uint16
	nextPkg uint16
	state   State
}

// State returns the current pairing state
func (t *Transport) State() State {
	return t.session.state
}

// Address returns this node's address
func (t *Transport) Address() uint16 {
	return t.session.address
}

// Master returns the master address, NoMaster when unpaired. A master node
// returns its own address.
func (t *Transport) Master() uint16 {
	if t.cfg.Role == RoleMaster {
		return t.session.address
	}
	return t.session.master
}

// Paired reports whether the node may originate packages other than JOIN
func (t *Transport) Paired() bool {
	if t.cfg.Role == RoleMaster {
		return true
	}
	return t.session.state == StateIdle || t.session.state == StateAwaitingAck
}

// Join queues a JOIN to master and moves a slave to Joining. The node becomes
// Idle when the JOIN is acknowledged and falls back to Unpaired if it is
// dropped.
func (t *Transport) Join(master uint16) (int, error) {
	if t.cfg.Role == RoleMaster {
		return 0, errors.New("master nodes do not join")
	}
	if master == NoMaster {
		return 0, errors.Wrap(ErrInvalidHeader, "cannot join the broadcast address")
	}

	prevMaster, prevState := t.session.master, t.session.state
	t.session.master = master
	t.session.state = StateJoining

	n, err := t.SendTo(master, TypeJoin, nil)
	if err != nil {
		t.session.master, t.session.state = prevMaster, prevState
		return 0, err
	}

	t.log.WithFields(logrus.Fields{"master": FormatAddress(master)}).Info("Joining master")
	return n, nil
}

// Leave drops every queued package and the in-flight segment. A slave forgets
// its master and returns to Unpaired; a master returns to Idle.
func (t *Transport) Leave() {
	t.tx.Reset()
	t.txWaiting = false
	t.retx = 0
	t.clearDuplicates()

	if t.cfg.Role == RoleMaster {
		t.setState(StateIdle)
		return
	}
	t.session.master = NoMaster
	t.setState(StateUnpaired)
}

// nextPackage returns the next package number (post-increment, wraps)
func (s *session) nextPackage() uint16 {
	n := s.nextPkg
	s.nextPkg++
	return n
}

// admitted advances the FSM after a package was accepted into the tx queue
func (t *Transport) admitted(typ MessageType) {
	if typ != TypeJoin && t.session.state == StateIdle {
		t.setState(StateAwaitingAck)
	}
}

// packageDone advances the FSM after a package left the tx queue
func (t *Transport) packageDone(r PackageResult) {
	if r.Type == TypeJoin && t.session.state == StateJoining {
		if !r.Delivered {
			t.log.WithFields(logrus.Fields{"master": FormatAddress(t.session.master)}).Warn("JOIN dropped, unpaired")
			t.session.master = NoMaster
			t.setState(StateUnpaired)
			return
		}
		t.setState(StateIdle)
	}

	if t.session.state == StateAwaitingAck && t.tx.Empty() {
		t.setState(StateIdle)
	} else if t.session.state == StateIdle && !t.tx.Empty() {
		t.setState(StateAwaitingAck)
	}
}

func (t *Transport) setState(s State) {
	if t.session.state == s {
		return
	}
	if t.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		t.log.WithFields(logrus.Fields{"from": t.session.state, "to": s}).Debug("State change")
	}
	t.session.state = s
}
