// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now Tick
}

func newFakeClock(now Tick) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() Tick { return c.now }

func (c *fakeClock) Advance(d Tick) { c.now += d }

type sentFrame struct {
	dest  uint16
	frame []byte
}

// fakeRadio records sent frames and replays queued inbound frames
type fakeRadio struct {
	sent    []sentFrame
	inbox   [][]byte
	sendErr error
}

func (r *fakeRadio) Send(dest uint16, frame []byte) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	r.sent = append(r.sent, sentFrame{dest: dest, frame: buf})
	return nil
}

func (r *fakeRadio) Poll() ([]byte, bool) {
	if len(r.inbox) == 0 {
		return nil, false
	}
	frame := r.inbox[0]
	r.inbox = r.inbox[1:]
	return frame, true
}

func (r *fakeRadio) deliver(frame []byte) {
	r.inbox = append(r.inbox, frame)
}

// take returns and clears the frames sent so far
func (r *fakeRadio) take() []sentFrame {
	sent := r.sent
	r.sent = nil
	return sent
}

type delivered struct {
	h       AbbrevHeader
	payload []byte
}

type recorder struct {
	got []delivered
}

func (rec *recorder) HandleSegment(h AbbrevHeader, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	rec.got = append(rec.got, delivered{h: h, payload: buf})
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(role Role, address, master uint16) Config {
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.Address = address
	cfg.Master = master
	cfg.Logger = quietLogger()
	return cfg
}

type harness struct {
	t       *Transport
	radio   *fakeRadio
	clock   *fakeClock
	rec     *recorder
	results []PackageResult
}

func newHarness(tb testing.TB, cfg Config) *harness {
	tb.Helper()
	h := &harness{
		radio: &fakeRadio{},
		clock: newFakeClock(0),
		rec:   &recorder{},
	}
	cfg.OnPackageDone = func(r PackageResult) { h.results = append(h.results, r) }
	tr, err := New(cfg, h.radio, h.clock, h.rec)
	require.NoError(tb, err)
	h.t = tr
	return h
}

// newSlave returns a slave at 0x0002 paired with master 0x0001
func newSlave(tb testing.TB) *harness {
	return newHarness(tb, testConfig(RoleSlave, 0x0002, 0x0001))
}

// newMaster returns a master at 0x0001
func newMaster(tb testing.TB) *harness {
	return newHarness(tb, testConfig(RoleMaster, 0x0001, NoMaster))
}

func mustEncode(tb testing.TB, h Header, payload []byte) []byte {
	tb.Helper()
	buf := make([]byte, SegmentOverhead+len(payload))
	n, err := EncodeSegment(buf, h, payload)
	require.NoError(tb, err)
	return buf[:n]
}

// ackFor builds the ACK (or NAK) a peer would send for a segment header
func ackFor(tb testing.TB, h Header, typ MessageType) []byte {
	return mustEncode(tb, Header{
		Master: h.Master,
		Slave:  h.Slave,
		PkgNo:  h.PkgNo,
		Type:   typ,
		SegCt:  1,
		SegNo:  h.SegNo,
	}, nil)
}

func mustDecode(tb testing.TB, frame []byte) (Header, []byte) {
	tb.Helper()
	h, payload, err := DecodeSegment(frame)
	require.NoError(tb, err)
	return h, payload
}

func seq(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}
