// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// duplicateSlots is the number of peers whose last accepted segment is
// remembered for duplicate suppression.
const duplicateSlots = 8

// rxMark is the last segment accepted from one peer
type rxMark struct {
	peer  uint16
	id    SegmentID
	valid bool
}

// HandleFrame processes one frame received from the radio.
//
// ACK and NAK frames resolve the in-flight segment. Data-bearing frames are
// queued for delivery and acknowledged according to the ACK policy. A
// retransmitted copy of the last segment accepted from the same peer is
// acknowledged again but not queued twice. A JOIN is always queued: it
// restarts the peer's package numbering, so the peer's duplicate mark is
// dropped first. When the receive queue is full the
// frame is dropped without an ACK so the sender retries.
func (t *Transport) HandleFrame(frame []byte) error {
	t.stats.FramesReceived.Inc()

	h, payload, err := DecodeSegment(frame)
	if err != nil {
		if errors.Is(err, ErrChecksum) {
			t.stats.ChecksumErrors.Inc()
		} else {
			t.stats.DecodeErrors.Inc()
		}
		return err
	}
	if verrs := ValidateHeader(h, t.cfg.MaxPayload()); len(verrs) > 0 {
		t.stats.DecodeErrors.Inc()
		return errors.Wrap(ErrInvalidHeader, verrs[0].Message)
	}

	peer := h.Peer(t.cfg.Role)

	if h.Type.IsControl() {
		t.handleControl(h, peer)
		return nil
	}

	if h.Type == TypeJoin {
		t.forget(peer)
	}
	if t.isDuplicate(peer, h.ID()) {
		t.stats.Duplicates.Inc()
	} else {
		need := AbbrevHeaderSize + len(payload)
		if t.rx.Free() < need {
			t.stats.RxOverflows.Inc()
			return errors.Wrapf(ErrRxQueueFull, "%s from %s needs %d bytes, %d free",
				h.Type, FormatAddress(peer), need, t.rx.Free())
		}

		h.Abbrev().Put(t.abbrev[:])
		t.rx.Put(t.abbrev[:])
		t.rx.Put(payload)
		t.remember(peer, h.ID())
	}

	if t.ack(h) {
		return t.sendAck(h, peer)
	}
	return nil
}

// handleControl routes an ACK or NAK to the transmit state machine
func (t *Transport) handleControl(h Header, peer uint16) {
	if h.Type == TypeAck {
		t.stats.AcksReceived.Inc()
	} else {
		t.stats.NaksReceived.Inc()
	}

	if t.txWaiting && peer != t.awaitPeer {
		t.stats.StaleAcks.Inc()
		return
	}
	t.HandleAckNak(h.Type, h.PkgNo, h.SegNo)
}

// sendAck acknowledges one segment back to its sender
func (t *Transport) sendAck(h Header, peer uint16) error {
	ack := Header{
		Master: h.Master,
		Slave:  h.Slave,
		PkgNo:  h.PkgNo,
		Type:   TypeAck,
		SegCt:  1,
		SegNo:  h.SegNo,
	}
	n, err := EncodeSegment(t.ackFrame[:], ack, nil)
	if err != nil {
		return err
	}
	if err := t.transmit(peer, t.ackFrame[:n]); err != nil {
		return err
	}
	t.stats.AcksSent.Inc()
	return nil
}

// Pop delivers the record at the head of the receive queue to the handler.
// It returns false when no complete record is queued. If a header is queued
// without its full payload, ErrRxUnderflow is returned and the header is left
// in place.
func (t *Transport) Pop() (bool, error) {
	if t.rx.Available() < AbbrevHeaderSize {
		return false, nil
	}

	t.rx.Peek(t.abbrev[:])
	a, err := ParseAbbrevHeader(t.abbrev[:])
	if err != nil {
		return false, err
	}
	if t.rx.Available() < AbbrevHeaderSize+int(a.Len) || int(a.Len) > len(t.payload) {
		return false, errors.Wrapf(ErrRxUnderflow, "%s record declares %d bytes, %d queued",
			a.Type, a.Len, t.rx.Available()-AbbrevHeaderSize)
	}

	t.rx.Delete(AbbrevHeaderSize)
	payload := t.payload[:a.Len]
	t.rx.Get(payload)
	t.stats.SegmentsDelivered.Inc()

	if t.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		t.log.WithFields(logrus.Fields{
			"type":   a.Type.String(),
			"master": FormatAddress(a.Master),
			"slave":  FormatAddress(a.Slave),
			"len":    a.Len,
		}).Trace("Deliver")
	}
	if t.handler != nil {
		t.handler.HandleSegment(a, payload)
	}
	return true, nil
}

func (t *Transport) isDuplicate(peer uint16, id SegmentID) bool {
	for _, m := range t.recent {
		if m.valid && m.peer == peer {
			return m.id == id
		}
	}
	return false
}

func (t *Transport) remember(peer uint16, id SegmentID) {
	for i := range t.recent {
		if t.recent[i].valid && t.recent[i].peer == peer {
			t.recent[i].id = id
			return
		}
	}
	t.recent[t.recentAt] = rxMark{peer: peer, id: id, valid: true}
	t.recentAt = (t.recentAt + 1) % duplicateSlots
}

func (t *Transport) forget(peer uint16) {
	for i := range t.recent {
		if t.recent[i].valid && t.recent[i].peer == peer {
			t.recent[i].valid = false
		}
	}
}

func (t *Transport) clearDuplicates() {
	t.recent = [duplicateSlots]rxMark{}
	t.recentAt = 0
}
