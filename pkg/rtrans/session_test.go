// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnpaired(t *testing.T) *harness {
	return newHarness(t, testConfig(RoleSlave, 0x0002, NoMaster))
}

func TestSession_InitialStates(t *testing.T) {
	slave := newUnpaired(t)
	assert.Equal(t, StateUnpaired, slave.t.State())
	assert.Equal(t, uint16(NoMaster), slave.t.Master())
	assert.False(t, slave.t.Paired())

	paired := newSlave(t)
	assert.Equal(t, StateIdle, paired.t.State())
	assert.Equal(t, uint16(0x0001), paired.t.Master())

	master := newMaster(t)
	assert.Equal(t, StateIdle, master.t.State())
	assert.Equal(t, uint16(0x0001), master.t.Master())
	assert.True(t, master.t.Paired())
}

func TestSession_UnpairedCannotSend(t *testing.T) {
	h := newUnpaired(t)
	for _, typ := range []MessageType{TypeData, TypeErr, TypeSet, TypePoll} {
		_, err := h.t.Send(typ, seq(2))
		assert.True(t, errors.Is(err, ErrNotPaired), "%s", typ)
	}
	assert.Equal(t, 0, h.t.TxAvailable())
	assert.Equal(t, uint64(4), h.t.Stats().AdmissionFailures.Load())
}

func TestSession_JoinAccepted(t *testing.T) {
	h := newUnpaired(t)

	n, err := h.t.Join(0x0001)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StateJoining, h.t.State())
	assert.Equal(t, uint16(0x0001), h.t.Master())

	_, err = h.t.Send(TypeData, seq(1))
	assert.True(t, errors.Is(err, ErrNotPaired), "no data while joining")

	require.NoError(t, h.t.Tick())
	sent := h.radio.take()
	require.Len(t, sent, 1)
	assert.Equal(t, uint16(0x0001), sent[0].dest)
	join, _ := mustDecode(t, sent[0].frame)
	assert.Equal(t, TypeJoin, join.Type)
	assert.Equal(t, uint16(0x0001), join.Master)
	assert.Equal(t, uint16(0x0002), join.Slave)

	h.radio.deliver(ackFor(t, join, TypeAck))
	require.NoError(t, h.t.Tick())
	assert.Equal(t, StateIdle, h.t.State())
	assert.True(t, h.t.Paired())
}

func TestSession_JoinNakUnpairs(t *testing.T) {
	h := newUnpaired(t)
	_, err := h.t.Join(0x0001)
	require.NoError(t, err)
	require.NoError(t, h.t.Tick())
	join, _ := mustDecode(t, h.radio.take()[0].frame)

	h.radio.deliver(ackFor(t, join, TypeNak))
	require.NoError(t, h.t.Tick())

	assert.Equal(t, StateUnpaired, h.t.State())
	assert.Equal(t, uint16(NoMaster), h.t.Master())
}

func TestSession_JoinExhaustedUnpairs(t *testing.T) {
	h := newUnpaired(t)
	_, err := h.t.Join(0x0001)
	require.NoError(t, err)

	require.NoError(t, h.t.Tick())
	for i := 0; i <= DefaultRetxLimit; i++ {
		h.clock.Advance(DefaultRetxTimeout + 1)
		require.NoError(t, h.t.Tick())
	}

	assert.Equal(t, StateUnpaired, h.t.State())
	assert.Equal(t, uint16(NoMaster), h.t.Master())
	require.Len(t, h.results, 1)
	assert.Equal(t, TypeJoin, h.results[0].Type)
	assert.False(t, h.results[0].Delivered)
}

func TestSession_AwaitingAckUntilDrained(t *testing.T) {
	h := newSlave(t)

	_, err := h.t.Send(TypeData, seq(3))
	require.NoError(t, err)
	_, err = h.t.Send(TypeData, seq(3))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingAck, h.t.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, h.t.Tick())
		hdr, _ := mustDecode(t, h.radio.take()[0].frame)
		assert.Equal(t, StateAwaitingAck, h.t.State())
		h.radio.deliver(ackFor(t, hdr, TypeAck))
	}
	require.NoError(t, h.t.Tick())
	assert.Equal(t, StateIdle, h.t.State())
	assert.Len(t, h.results, 2)
}

func TestSession_Leave(t *testing.T) {
	h := newSlave(t)
	_, err := h.t.Send(TypeData, seq(30))
	require.NoError(t, err)
	require.NoError(t, h.t.Tick())

	h.t.Leave()
	assert.Equal(t, StateUnpaired, h.t.State())
	assert.Equal(t, uint16(NoMaster), h.t.Master())
	assert.Equal(t, 0, h.t.TxAvailable())
	_, waiting := h.t.Waiting()
	assert.False(t, waiting)

	m := newMaster(t)
	_, err = m.t.SendTo(2, TypePoll, nil)
	require.NoError(t, err)
	m.t.Leave()
	assert.Equal(t, StateIdle, m.t.State())
	assert.Equal(t, 0, m.t.TxAvailable())
}

func TestSession_JoinErrors(t *testing.T) {
	m := newMaster(t)
	_, err := m.t.Join(0x0005)
	assert.Error(t, err)

	s := newUnpaired(t)
	_, err = s.t.Join(NoMaster)
	assert.Error(t, err)
	assert.Equal(t, StateUnpaired, s.t.State())
}

func TestSession_JoinQueueFullRestoresState(t *testing.T) {
	cfg := testConfig(RoleSlave, 0x0002, 0x0001)
	cfg.MaxSegments = 1
	h := newHarness(t, cfg)

	_, err := h.t.Send(TypeData, seq(89))
	require.NoError(t, err)

	_, err = h.t.Join(0x0009)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, uint16(0x0001), h.t.Master())
	assert.Equal(t, StateAwaitingAck, h.t.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNPAIRED", StateUnpaired.String())
	assert.Equal(t, "JOINING", StateJoining.String())
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "AWAITING_ACK", StateAwaitingAck.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
