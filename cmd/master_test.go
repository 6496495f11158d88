// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/rtrans/pkg/rapp"
	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    rapp.Params
		wantErr bool
	}{
		{name: "none", pairs: nil, want: nil},
		{
			name:  "interval and history",
			pairs: []string{"interval=50", "history = 16"},
			want:  rapp.Params{rapp.ParamInterval: 50, rapp.ParamHistory: 16},
		},
		{name: "missing value", pairs: []string{"interval"}, wantErr: true},
		{name: "unknown name", pairs: []string{"rate=5"}, wantErr: true},
		{name: "not a number", pairs: []string{"interval=fast"}, wantErr: true},
		{name: "out of range", pairs: []string{"history=0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{in: "16", want: 16},
		{in: "0x00B2", want: 0x00B2},
		{in: " 0xFFFE ", want: 0xFFFE},
		{in: "0x10000", wantErr: true},
		{in: "slave", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseAddress(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0 seconds", formatUptime(0))
	assert.Equal(t, "1 second", formatUptime(1000))
	assert.Equal(t, "1 minute and 5 seconds", formatUptime(65_000))
	assert.Equal(t, "2 hours", formatUptime(2*3600_000))
	assert.Equal(t, "1 day, 1 hour, and 1 second", formatUptime((86400+3600+1)*1000))
}

func TestSimulate_Lossless(t *testing.T) {
	var events []masterEvent
	res, err := simulate(simOptions{
		slaves: 2,
		seed:   7,
		ticks:  rtrans.TicksFromDuration(time.Minute),
		schedule: masterSchedule{
			probe:  30 * time.Second,
			poll:   10 * time.Second,
			params: rapp.Params{rapp.ParamInterval: 20},
		},
	}, func(_ rtrans.Tick, e masterEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	peers := res.master.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, uint16(simSlaveBase), peers[0].Address)
	assert.Equal(t, uint16(simSlaveBase+1), peers[1].Address)
	assert.NotZero(t, res.data)

	for _, node := range res.nodes {
		assert.True(t, node.Transport().Paired())
		assert.Equal(t, uint16(simMasterAddr), node.Transport().Master())
		assert.Equal(t, int64(20), node.Params()[rapp.ParamInterval])
		assert.NotZero(t, node.Stats().Readings)
	}

	for _, e := range events {
		assert.False(t, e.isError, e.message)
	}
	assert.Zero(t, res.net.Dropped.Load())
	assert.Zero(t, res.master.Transport().Stats().ChecksumErrors.Load())
}

func TestSimulate_RejectsSlaveCount(t *testing.T) {
	_, err := simulate(simOptions{slaves: 0, ticks: 10}, nil)
	assert.Error(t, err)
}

func TestMasterModel_Update(t *testing.T) {
	actions := make(chan func(*masterRunner), 1)
	m := initialMasterModel("test", simMasterAddr, rtrans.NewStatistics(), actions)

	updated, _ := m.Update(peersMsg{
		peers: []rtrans.Peer{{Address: 0x0010}, {Address: 0x0011}},
		state: rtrans.StateAwaitingAck,
	})
	m = updated.(masterModel)
	assert.Len(t, m.peers, 2)
	assert.Len(t, m.peerList.Items(), 2)
	assert.Equal(t, rtrans.StateAwaitingAck, m.state)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = updated.(masterModel)
	assert.Len(t, actions, 1)

	// the action channel is full, so the next request is dropped
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = updated.(masterModel)
	require.Len(t, m.eventLog, 2)
	assert.True(t, m.eventLog[1].isError)

	updated, _ = m.Update(eventMsg(masterEvent{at: time.Now(), message: "Join from 0x0010"}))
	m = updated.(masterModel)
	assert.Len(t, m.eventLog, 3)
}
