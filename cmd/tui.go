// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

// peerItem is a slave in the peer list
type peerItem struct {
	peer rtrans.Peer
}

// Implement list.Item interface
func (p peerItem) Title() string { return fmt.Sprintf("Slave %s", rtrans.FormatAddress(p.peer.Address)) }
func (p peerItem) Description() string {
	return fmt.Sprintf("last %s, %d segs, %d polls", p.peer.LastType, p.peer.Segments, p.peer.Polls)
}
func (p peerItem) FilterValue() string { return fmt.Sprintf("%04X", p.peer.Address) }

// TUI model
type masterModel struct {
	connInfo      string
	address       uint16
	stats         *rtrans.Statistics
	actions       chan<- func(*masterRunner)
	state         rtrans.State
	peers         []rtrans.Peer
	peerList      list.Model
	eventLog      []masterEvent
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type eventMsg masterEvent
type peersMsg struct {
	peers []rtrans.Peer
	state rtrans.State
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialMasterModel(connInfo string, address uint16, stats *rtrans.Statistics, actions chan<- func(*masterRunner)) masterModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	peerList := list.New([]list.Item{}, delegate, 36, 10)
	peerList.Title = "Slaves"
	peerList.SetShowStatusBar(false)
	peerList.SetShowHelp(false)
	peerList.SetFilteringEnabled(false)

	return masterModel{
		connInfo:      connInfo,
		address:       address,
		stats:         stats,
		actions:       actions,
		state:         rtrans.StateIdle,
		peerList:      peerList,
		eventLog:      make([]masterEvent, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m masterModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m masterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "p":
			m.queue(func(r *masterRunner) { r.probe() }, "PROBE requested")
			return m, nil

		case "enter":
			if item, ok := m.peerList.SelectedItem().(peerItem); ok {
				addr := item.peer.Address
				m.queue(func(r *masterRunner) { r.poll(addr) },
					fmt.Sprintf("POLL %s requested", rtrans.FormatAddress(addr)))
			}
			return m, nil

		case "r":
			m.stats.Reset()
			m.addLogEntry(masterEvent{at: time.Now(), message: "Statistics reset"})
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height / 3
		if listHeight < 5 {
			listHeight = 5
		}
		m.peerList.SetSize(36, listHeight)

	case tickMsg:
		return m, tickCmd()

	case eventMsg:
		m.addLogEntry(masterEvent(msg))

	case peersMsg:
		m.peers = msg.peers
		m.state = msg.state
		items := make([]list.Item, len(m.peers))
		for i, p := range m.peers {
			items[i] = peerItem{peer: p}
		}
		cmd := m.peerList.SetItems(items)
		return m, cmd
	}

	var cmd tea.Cmd
	m.peerList, cmd = m.peerList.Update(msg)
	return m, cmd
}

// queue hands an action to the driver loop without blocking the UI
func (m *masterModel) queue(action func(*masterRunner), message string) {
	select {
	case m.actions <- action:
		m.addLogEntry(masterEvent{at: time.Now(), message: message})
	default:
		m.addLogEntry(masterEvent{at: time.Now(), message: "Driver busy, action dropped", isError: true})
	}
}

func (m *masterModel) addLogEntry(e masterEvent) {
	m.eventLog = append(m.eventLog, e)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m masterModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("RTRANS - MASTER STATION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Address: %s | p probe, enter poll, r reset, q quit",
		m.connInfo, rtrans.FormatAddress(m.address))))
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	sent := st.FramesSent.Load()
	var retxPercent float64
	if sent > 0 {
		retxPercent = float64(st.Retransmissions.Load()) * 100.0 / float64(sent)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("State:"), statsValueStyle.Render(m.state.String()),
		statsLabelStyle.Render("Slaves:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.peers))),
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(uint64(st.Uptime().Milliseconds()))),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", sent)),
		statsLabelStyle.Render("Received:"), statsValueStyle.Render(fmt.Sprintf("%d", st.FramesReceived.Load())),
		statsLabelStyle.Render("Retx:"), func() string {
			text := fmt.Sprintf("%d (%.1f%%)", st.Retransmissions.Load(), retxPercent)
			if retxPercent > 20 {
				return warningStyle.Render(text)
			}
			return statsValueStyle.Render(text)
		}(),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Delivered:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PackagesDelivered.Load())),
		statsLabelStyle.Render("Abandoned:"), func() string {
			text := fmt.Sprintf("%d", st.PackagesAbandoned.Load())
			if st.PackagesAbandoned.Load() > 0 {
				return errorStyle.Render(text)
			}
			return statsValueStyle.Render(text)
		}(),
		statsLabelStyle.Render("Duplicates:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Duplicates.Load())),
	))
	if errs := st.Errors(); errs > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", errs)),
			headerStyle.Render("checksum"), st.ChecksumErrors.Load(),
			headerStyle.Render("decode"), st.DecodeErrors.Load(),
			headerStyle.Render("rx full"), st.RxOverflows.Load(),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate())),
	))

	top := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(m.peerList.View()),
		boxStyle.Render(statsContent.String()),
	)
	s.WriteString(top)
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - lipgloss.Height(top) - 8
	if logHeight < 5 {
		logHeight = 5
	}

	// Multi-line events are flattened to their lines
	var lines []masterEvent
	for _, e := range m.eventLog {
		for _, line := range strings.Split(e.message, "\n") {
			lines = append(lines, masterEvent{at: e.at, message: line, isError: e.isError})
		}
	}
	startIdx := len(lines) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(lines) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range lines[startIdx:] {
			timestamp := entry.at.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
