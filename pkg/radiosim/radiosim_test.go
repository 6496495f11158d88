// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radiosim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attach(t *testing.T, n *Network, addr uint16) *Node {
	t.Helper()
	node, err := n.Attach(addr)
	require.NoError(t, err)
	return node
}

func TestUnicastDelivery(t *testing.T) {
	n := NewNetwork()
	a := attach(t, n, 1)
	b := attach(t, n, 2)
	c := attach(t, n, 3)

	require.NoError(t, a.Send(2, []byte{0xAA, 0xBB}))

	frame, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, []byte{0xAA, 0xBB}, frame)

	_, ok = c.Poll()
	assert.False(t, ok, "unicast must not reach other nodes")
	_, ok = a.Poll()
	assert.False(t, ok, "sender must not hear itself")
}

func TestBroadcastDelivery(t *testing.T) {
	n := NewNetwork()
	a := attach(t, n, 1)
	b := attach(t, n, 2)
	c := attach(t, n, 3)

	require.NoError(t, a.Send(AddressBroadcast, []byte{1}))

	assert.Equal(t, 1, b.Pending())
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, uint64(2), n.Delivered.Load())
}

func TestSendCopiesFrame(t *testing.T) {
	n := NewNetwork()
	a := attach(t, n, 1)
	b := attach(t, n, 2)

	buf := []byte{1, 2, 3}
	require.NoError(t, a.Send(2, buf))
	buf[0] = 9

	frame, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, byte(1), frame[0])
}

func TestTotalLoss(t *testing.T) {
	n := NewNetwork(WithLoss(1))
	a := attach(t, n, 1)
	b := attach(t, n, 2)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Send(2, []byte{byte(i)}))
	}
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, uint64(10), n.Dropped.Load())
}

func TestCorruption(t *testing.T) {
	n := NewNetwork(WithCorruption(1), WithSeed(42))
	a := attach(t, n, 1)
	b := attach(t, n, 2)

	sent := []byte{0x10, 0x20, 0x30, 0x40}
	require.NoError(t, a.Send(2, sent))

	frame, ok := b.Poll()
	require.True(t, ok)
	assert.NotEqual(t, sent, frame)
	assert.Len(t, frame, len(sent))
	assert.Equal(t, uint64(1), n.Corrupted.Load())
}

func TestNodeOutOfRange(t *testing.T) {
	n := NewNetwork()
	a := attach(t, n, 1)
	b := attach(t, n, 2)

	b.SetUp(false)
	require.NoError(t, a.Send(2, []byte{1}))
	assert.Equal(t, 0, b.Pending())

	b.SetUp(true)
	require.NoError(t, a.Send(2, []byte{2}))
	assert.Equal(t, 1, b.Pending())
}

func TestQueueOverflow(t *testing.T) {
	n := NewNetwork()
	a := attach(t, n, 1)
	b := attach(t, n, 2)

	for i := 0; i < queueSize+5; i++ {
		require.NoError(t, a.Send(2, []byte{byte(i)}))
	}
	assert.Equal(t, queueSize, b.Pending())
	assert.Equal(t, uint64(5), n.Overflows.Load())
}

func TestAttachErrors(t *testing.T) {
	n := NewNetwork()
	attach(t, n, 1)

	_, err := n.Attach(1)
	assert.Error(t, err)

	_, err = n.Attach(AddressBroadcast)
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	n := NewNetwork()
	a := attach(t, n, 1)
	b := attach(t, n, 2)

	b.Close()
	b.Close()
	require.NoError(t, a.Send(2, []byte{1}))
	assert.Equal(t, uint64(0), n.Delivered.Load())
	assert.Error(t, b.Send(1, []byte{1}))

	// address is free again
	_, err := n.Attach(2)
	assert.NoError(t, err)
}
