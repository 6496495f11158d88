// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Send queues a package for the node's default peer: the master for a slave,
// the broadcast address for a master. It returns the number of segments
// queued. A nil error means the package was accepted, not delivered.
func (t *Transport) Send(typ MessageType, payload []byte) (int, error) {
	if t.cfg.Role == RoleMaster {
		return t.SendTo(AddressBroadcast, typ, payload)
	}
	return t.SendTo(t.session.master, typ, payload)
}

// SendTo queues a package for dest. The whole package is admitted or nothing
// is: on error the transmit queue and package counter are unchanged.
func (t *Transport) SendTo(dest uint16, typ MessageType, payload []byte) (int, error) {
	if typ.IsControl() {
		return 0, errors.Wrapf(ErrInvalidHeader, "%s frames are generated by the transport", typ)
	}
	if !typ.IsKnown() {
		return 0, errors.Wrapf(ErrInvalidHeader, "unknown message type 0x%02X", uint8(typ))
	}
	if typ != TypeJoin && !t.Paired() {
		t.stats.AdmissionFailures.Inc()
		return 0, errors.Wrapf(ErrNotPaired, "cannot send %s in state %s", typ, t.session.state)
	}

	h := Header{Type: typ}
	if t.cfg.Role == RoleMaster {
		h.Master, h.Slave = t.session.address, dest
	} else {
		h.Master, h.Slave = dest, t.session.address
	}

	n, err := t.enqueue(h, payload)
	if err != nil {
		t.stats.AdmissionFailures.Inc()
		return 0, err
	}

	t.stats.PackagesQueued.Inc()
	t.admitted(typ)
	return n, nil
}

// enqueue segments payload into the transmit queue under the next package
// number.
func (t *Transport) enqueue(h Header, payload []byte) (int, error) {
	maxPayload := t.cfg.MaxPayload()
	segments := SegmentCount(len(payload), maxPayload)

	if segments > t.cfg.MaxSegments {
		return 0, errors.Wrapf(ErrPackageTooLarge, "%d bytes need %d segments (max %d)",
			len(payload), segments, t.cfg.MaxSegments)
	}
	if need := len(payload) + segments*SegmentOverhead; need > t.tx.Free() {
		return 0, errors.Wrapf(ErrQueueFull, "package needs %d bytes, %d free", need, t.tx.Free())
	}

	h.PkgNo = t.session.nextPackage()
	h.SegCt = uint8(segments)

	for i := 0; i < segments; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}

		h.SegNo = uint8(i)
		n, err := EncodeSegment(t.frame, h, payload[start:end])
		if err != nil {
			return 0, err
		}
		t.tx.Put(t.frame[:n])
	}

	return segments, nil
}

// peekHead reads the record at the head of the transmit queue into the frame
// scratch buffer without removing it.
func (t *Transport) peekHead() (Header, []byte, error) {
	if t.tx.Peek(t.hdr[:]) == 0 {
		return Header{}, nil, errors.New("transmit queue empty")
	}
	h, err := ParseHeader(t.hdr[:])
	if err != nil {
		return Header{}, nil, err
	}
	n := h.FrameSize()
	if n > len(t.frame) || t.tx.Peek(t.frame[:n]) == 0 {
		return h, nil, errors.Errorf("transmit record pkg %d seg %d truncated", h.PkgNo, h.SegNo)
	}
	return h, t.frame[:n], nil
}

// drive sends the head record when nothing is in flight. Broadcast records
// are sent once and retired without waiting for an acknowledgment.
func (t *Transport) drive(now Tick) error {
	if t.txWaiting || t.tx.Empty() {
		return nil
	}

	h, frame, err := t.peekHead()
	if err != nil {
		t.log.WithError(err).Error("Transmit queue corrupt, resetting")
		t.tx.Reset()
		return err
	}

	dest := h.Peer(t.cfg.Role)
	t.retx = 0
	t.txWaiting = true
	t.await = h.ID()
	t.awaitPeer = dest
	t.timeout = now + t.cfg.RetxTimeout
	t.retx++

	if t.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		t.log.WithFields(logrus.Fields{"dest": FormatAddress(dest), "segment": FormatHeader(h)}).Trace("Transmit")
	}
	err = t.transmit(dest, frame)

	if dest == AddressBroadcast {
		t.txWaiting = false
		t.tx.Delete(h.FrameSize())
		if h.IsLast() {
			t.finishPackage(h, true)
		}
	}
	return err
}

// checkTimeout retransmits the in-flight segment once its deadline passed,
// and abandons the package after RetxLimit retransmissions.
func (t *Transport) checkTimeout(now Tick) error {
	if !t.txWaiting || now <= t.timeout {
		return nil
	}

	if t.retx > t.cfg.RetxLimit {
		t.log.WithFields(logrus.Fields{
			"pkg":   t.await.PkgNo,
			"seg":   t.await.SegNo,
			"peer":  FormatAddress(t.awaitPeer),
			"tries": t.retx,
		}).Warn("Retransmit limit reached, abandoning package")
		t.HandleAckNak(TypeNak, t.await.PkgNo, t.await.SegNo)
		return nil
	}

	_, frame, err := t.peekHead()
	if err != nil {
		t.txWaiting = false
		return err
	}
	t.retx++
	t.timeout = now + t.cfg.RetxTimeout
	t.stats.Retransmissions.Inc()
	return t.transmit(t.awaitPeer, frame)
}

// HandleAckNak resolves the in-flight segment. It is ignored unless a segment
// is in flight and (pkgNo, segNo) matches it. An ACK retires exactly the head
// record; a NAK retires every queued record of the same package.
func (t *Transport) HandleAckNak(typ MessageType, pkgNo uint16, segNo uint8) {
	if !typ.IsControl() {
		return
	}
	if !t.txWaiting || t.await != (SegmentID{PkgNo: pkgNo, SegNo: segNo}) {
		t.stats.StaleAcks.Inc()
		return
	}
	t.txWaiting = false

	if typ == TypeAck {
		h, _, err := t.peekHead()
		if err != nil {
			t.log.WithError(err).Error("ACK with empty transmit queue")
			return
		}
		t.tx.Delete(h.FrameSize())
		if h.IsLast() {
			t.finishPackage(h, true)
		}
		return
	}

	var dropped Header
	found := false
	for !t.tx.Empty() {
		h, _, err := t.peekHead()
		if err != nil || h.PkgNo != pkgNo {
			break
		}
		if !found {
			dropped, found = h, true
		}
		t.tx.Delete(h.FrameSize())
	}
	if found {
		t.finishPackage(dropped, false)
	}
}

// finishPackage reports a package leaving the transmit queue
func (t *Transport) finishPackage(h Header, delivered bool) {
	r := PackageResult{
		PkgNo:     h.PkgNo,
		Type:      h.Type,
		Dest:      h.Peer(t.cfg.Role),
		Delivered: delivered,
	}
	if delivered {
		t.stats.PackagesDelivered.Inc()
	} else {
		t.stats.PackagesAbandoned.Inc()
	}

	t.packageDone(r)
	if t.cfg.OnPackageDone != nil {
		t.cfg.OnPackageDone(r)
	}
}
