// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dataFrom builds a DATA segment sent by slave 0x0002 to master 0x0001
func dataFrom(tb testing.TB, pkg uint16, payload []byte) (Header, []byte) {
	h := Header{Master: 0x0001, Slave: 0x0002, PkgNo: pkg, Type: TypeData, SegCt: 1, SegNo: 0}
	frame := mustEncode(tb, h, payload)
	h.Len = uint8(len(payload))
	return h, frame
}

func TestReceive_DeliverAndAck(t *testing.T) {
	h := newMaster(t)
	_, frame := dataFrom(t, 7, []byte("hi"))

	h.radio.deliver(frame)
	require.NoError(t, h.t.Tick())

	require.Len(t, h.rec.got, 1)
	assert.Equal(t, AbbrevHeader{Master: 0x0001, Slave: 0x0002, Type: TypeData, Len: 2}, h.rec.got[0].h)
	assert.Equal(t, []byte("hi"), h.rec.got[0].payload)
	assert.Equal(t, 0, h.t.RxAvailable())

	sent := h.radio.take()
	require.Len(t, sent, 1)
	assert.Equal(t, uint16(0x0002), sent[0].dest, "ACK goes back to the sender")

	ack, payload := mustDecode(t, sent[0].frame)
	assert.Equal(t, Header{Master: 0x0001, Slave: 0x0002, PkgNo: 7, Type: TypeAck, SegCt: 1, SegNo: 0, Len: 0}, ack)
	assert.Empty(t, payload)
	assert.Equal(t, uint64(1), h.t.Stats().AcksSent.Load())
}

func TestReceive_QueueLayout(t *testing.T) {
	h := newMaster(t)
	_, frame := dataFrom(t, 1, seq(5))

	require.NoError(t, h.t.HandleFrame(frame))
	assert.Equal(t, AbbrevHeaderSize+5, h.t.RxAvailable())

	buf := make([]byte, AbbrevHeaderSize+5)
	h.t.rx.Peek(buf)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00, byte(TypeData), 5, 0, 1, 2, 3, 4}, buf)
}

func TestReceive_CorruptFrameNeverDelivered(t *testing.T) {
	h := newMaster(t)
	_, frame := dataFrom(t, 1, seq(10))

	for i := range frame {
		corrupt := append([]byte(nil), frame...)
		corrupt[i] ^= 0x5A

		before := h.t.RxAvailable()
		err := h.t.HandleFrame(corrupt)
		require.Error(t, err, "byte %d", i)
		assert.Equal(t, before, h.t.RxAvailable())
	}

	ok, err := h.t.Pop()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.rec.got)
	assert.Empty(t, h.radio.take(), "corrupt frames are not acknowledged")
}

func TestReceive_BoundaryErrors(t *testing.T) {
	valid := mustEncode(t, Header{Master: 1, Slave: 2, Type: TypeData, SegCt: 1}, seq(3))

	tests := []struct {
		name    string
		frame   []byte
		want    error
		counter func(*Statistics) uint64
	}{
		{"short", valid[:5], ErrShortFrame, func(s *Statistics) uint64 { return s.DecodeErrors.Load() }},
		{"checksum", func() []byte {
			f := append([]byte(nil), valid...)
			f[HeaderSize]++
			return f
		}(), ErrChecksum, func(s *Statistics) uint64 { return s.ChecksumErrors.Load() }},
		{"segment index", mustEncode(t, Header{Type: TypeData, SegCt: 1, SegNo: 1}, nil), ErrInvalidHeader,
			func(s *Statistics) uint64 { return s.DecodeErrors.Load() }},
		{"unknown type", mustEncode(t, Header{Type: MessageType(77), SegCt: 1}, nil), ErrInvalidHeader,
			func(s *Statistics) uint64 { return s.DecodeErrors.Load() }},
		{"oversize payload", mustEncode(t, Header{Type: TypeData, SegCt: 1}, seq(90)), ErrInvalidHeader,
			func(s *Statistics) uint64 { return s.DecodeErrors.Load() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMaster(t)
			err := h.t.HandleFrame(tt.frame)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, uint64(1), tt.counter(h.t.Stats()))
			assert.Equal(t, 0, h.t.RxAvailable())
		})
	}
}

func TestReceive_DuplicateAckedNotQueued(t *testing.T) {
	h := newMaster(t)
	_, frame := dataFrom(t, 3, seq(4))

	h.radio.deliver(frame)
	h.radio.deliver(frame)
	require.NoError(t, h.t.Tick())

	assert.Len(t, h.rec.got, 1)
	assert.Len(t, h.radio.take(), 2, "duplicate is acknowledged again")
	assert.Equal(t, uint64(1), h.t.Stats().Duplicates.Load())

	// a new package from the same peer is accepted
	_, next := dataFrom(t, 4, seq(4))
	h.radio.deliver(next)
	require.NoError(t, h.t.Tick())
	assert.Len(t, h.rec.got, 2)
}

func TestReceive_DuplicateTrackedPerPeer(t *testing.T) {
	h := newMaster(t)
	_, a := dataFrom(t, 3, seq(1))
	b := mustEncode(t, Header{Master: 0x0001, Slave: 0x0003, PkgNo: 3, Type: TypeData, SegCt: 1}, seq(1))

	h.radio.deliver(a)
	h.radio.deliver(b)
	require.NoError(t, h.t.Tick())
	assert.Len(t, h.rec.got, 2)
}

func TestReceive_JoinRestartsPeerNumbering(t *testing.T) {
	h := newMaster(t)
	join := mustEncode(t, Header{Master: 0x0001, Slave: 0x0002, PkgNo: 0, Type: TypeJoin, SegCt: 1}, nil)
	_, data := dataFrom(t, 1, seq(4))

	h.radio.deliver(join)
	h.radio.deliver(data)
	require.NoError(t, h.t.Tick())
	require.NoError(t, h.t.Tick())
	require.Len(t, h.rec.got, 2)

	// the slave restarts: JOIN and the first DATA reuse package numbers 0 and 1
	h.radio.deliver(join)
	require.NoError(t, h.t.Tick())
	h.radio.deliver(data)
	require.NoError(t, h.t.Tick())
	require.Len(t, h.rec.got, 4)
	assert.Equal(t, TypeJoin, h.rec.got[2].h.Type)
	assert.Equal(t, TypeData, h.rec.got[3].h.Type)
	assert.Zero(t, h.t.Stats().Duplicates.Load())

	// retransmissions of other types are still suppressed
	h.radio.deliver(data)
	require.NoError(t, h.t.Tick())
	assert.Len(t, h.rec.got, 4)
	assert.Equal(t, uint64(1), h.t.Stats().Duplicates.Load())
	assert.Len(t, h.radio.take(), 5, "every copy is acknowledged")
}

func TestReceive_QueueFullNotAcked(t *testing.T) {
	h := newMaster(t)
	require.Equal(t, 190, h.t.Config().RxQueueSize())

	for pkg := uint16(0); pkg < 2; pkg++ {
		_, frame := dataFrom(t, pkg, seq(89))
		require.NoError(t, h.t.HandleFrame(frame))
	}
	assert.Equal(t, 190, h.t.RxAvailable())

	_, frame := dataFrom(t, 2, seq(1))
	err := h.t.HandleFrame(frame)
	assert.True(t, errors.Is(err, ErrRxQueueFull))
	assert.Equal(t, 190, h.t.RxAvailable())
	assert.Len(t, h.radio.take(), 2, "rejected segment is not acknowledged")
	assert.Equal(t, uint64(1), h.t.Stats().RxOverflows.Load())

	// once drained the retransmission is accepted
	for {
		ok, err := h.t.Pop()
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	require.NoError(t, h.t.HandleFrame(frame))
	assert.Len(t, h.radio.take(), 1)
}

func TestReceive_BroadcastProbeNotAcked(t *testing.T) {
	h := newHarness(t, testConfig(RoleSlave, 0x0002, NoMaster))
	probe := mustEncode(t, Header{Master: 0x0001, Slave: AddressBroadcast, PkgNo: 0, Type: TypeProbe, SegCt: 1}, nil)

	h.radio.deliver(probe)
	require.NoError(t, h.t.Tick())

	require.Len(t, h.rec.got, 1)
	assert.Equal(t, TypeProbe, h.rec.got[0].h.Type)
	assert.Equal(t, uint16(0x0001), h.rec.got[0].h.Master)
	assert.Empty(t, h.radio.take())
}

func TestReceive_CustomAckPolicy(t *testing.T) {
	cfg := testConfig(RoleMaster, 0x0001, NoMaster)
	cfg.AckPolicy = func(h Header) bool { return h.Type != TypeErr }
	h := newHarness(t, cfg)

	errFrame := mustEncode(t, Header{Master: 1, Slave: 2, PkgNo: 1, Type: TypeErr, SegCt: 1}, seq(2))
	h.radio.deliver(errFrame)
	require.NoError(t, h.t.Tick())

	assert.Len(t, h.rec.got, 1)
	assert.Empty(t, h.radio.take())
}

func TestReceive_AckFromWrongPeerIgnored(t *testing.T) {
	h := newMaster(t)
	_, err := h.t.SendTo(0x0002, TypePoll, nil)
	require.NoError(t, err)
	require.NoError(t, h.t.Tick())
	poll, _ := mustDecode(t, h.radio.take()[0].frame)

	wrong := poll
	wrong.Slave = 0x0003
	h.radio.deliver(ackFor(t, wrong, TypeAck))
	require.NoError(t, h.t.Tick())
	_, waiting := h.t.Waiting()
	assert.True(t, waiting)
	assert.Equal(t, uint64(1), h.t.Stats().StaleAcks.Load())

	h.radio.deliver(ackFor(t, poll, TypeAck))
	require.NoError(t, h.t.Tick())
	_, waiting = h.t.Waiting()
	assert.False(t, waiting)
}

func TestPop_Underflow(t *testing.T) {
	h := newMaster(t)

	var hdr [AbbrevHeaderSize]byte
	AbbrevHeader{Master: 1, Slave: 2, Type: TypeData, Len: 10}.Put(hdr[:])
	h.t.rx.Put(hdr[:])
	h.t.rx.Put([]byte{1, 2, 3})

	ok, err := h.t.Pop()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrRxUnderflow))
	assert.Equal(t, AbbrevHeaderSize+3, h.t.RxAvailable(), "header left in place")
	assert.Empty(t, h.rec.got)

	assert.Error(t, h.t.Tick())
}

func TestPop_Empty(t *testing.T) {
	h := newMaster(t)
	ok, err := h.t.Pop()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReceive_NilHandler(t *testing.T) {
	tr, err := New(testConfig(RoleMaster, 1, NoMaster), &fakeRadio{}, newFakeClock(0), nil)
	require.NoError(t, err)

	_, frame := dataFrom(t, 1, seq(3))
	require.NoError(t, tr.HandleFrame(frame))
	ok, err := tr.Pop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, tr.RxAvailable())
}

func TestTick_FrameBudget(t *testing.T) {
	h := newMaster(t)
	for pkg := 0; pkg < maxFramesPerTick+4; pkg++ {
		h.radio.deliver(mustEncode(t, Header{Master: 1, Slave: 2, PkgNo: uint16(pkg), Type: TypeAck, SegCt: 1}, nil))
	}

	require.NoError(t, h.t.Tick())
	assert.Len(t, h.radio.inbox, 4)
	require.NoError(t, h.t.Tick())
	assert.Empty(t, h.radio.inbox)
}
