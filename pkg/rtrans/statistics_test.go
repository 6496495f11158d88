// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistics_TransportCounters(t *testing.T) {
	h := newSlave(t)
	_, err := h.t.Send(TypeData, seq(10))
	require.NoError(t, err)
	require.NoError(t, h.t.Tick())

	hdr, _ := mustDecode(t, h.radio.take()[0].frame)
	h.clock.Advance(DefaultRetxTimeout + 1)
	require.NoError(t, h.t.Tick())
	h.radio.deliver(ackFor(t, hdr, TypeAck))
	require.NoError(t, h.t.Tick())

	s := h.t.Stats()
	assert.Equal(t, uint64(2), s.FramesSent.Load())
	assert.Equal(t, uint64(1), s.FramesReceived.Load())
	assert.Equal(t, uint64(1), s.Retransmissions.Load())
	assert.Equal(t, uint64(1), s.AcksReceived.Load())
	assert.Equal(t, uint64(1), s.PackagesQueued.Load())
	assert.Equal(t, uint64(1), s.PackagesDelivered.Load())
	assert.Equal(t, uint64(0), s.Errors())
}

func TestStatistics_SharedAcrossTransports(t *testing.T) {
	stats := NewStatistics()
	cfg := testConfig(RoleMaster, 1, NoMaster)
	cfg.Stats = stats
	h := newHarness(t, cfg)
	assert.Same(t, stats, h.t.Stats())
}

func TestStatistics_StringAndReset(t *testing.T) {
	s := NewStatistics()
	s.FramesSent.Add(10)
	s.FramesReceived.Add(8)
	s.Retransmissions.Add(2)
	s.ChecksumErrors.Add(1)
	s.Duplicates.Add(3)

	out := s.String()
	assert.Contains(t, out, "=== Statistics")
	assert.Contains(t, out, "Retransmissions:        2 (20.0%)")
	assert.Contains(t, out, "Checksum Errors:        1")
	assert.Contains(t, out, "Duplicates:             3")
	assert.NotContains(t, out, "Rx Overflows")

	s.Reset()
	for _, c := range s.counters() {
		assert.Equal(t, uint64(0), c.Load())
	}
	assert.Less(t, s.Uptime().Seconds(), 5.0)
}
