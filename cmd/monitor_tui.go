// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vpid/pkg/vpi"
)

const maxLogEntries = 12

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorModel struct {
	client   Client
	connInfo string
	interval time.Duration
	started  time.Time

	status    *vpi.Status
	stats     *vpi.Stats
	lastError string
	polls     int
	failures  int

	log   []logEntry
	input textinput.Model

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time

type pollMsg struct {
	status *vpi.Status
	stats  *vpi.Stats
	err    error
}

type replyMsg struct {
	line  string
	reply Reply
	err   error
}

func newMonitorModel(client Client, connInfo string, intervalSecs int) monitorModel {
	if intervalSecs < 1 {
		intervalSecs = 1
	}
	ti := textinput.New()
	ti.Placeholder = "command (e.g. led blink 20)"
	ti.CharLimit = 64
	ti.Width = 40
	ti.Focus()

	return monitorModel{
		client:   client,
		connInfo: connInfo,
		interval: time.Duration(intervalSecs) * time.Second,
		started:  time.Now(),
		input:    ti,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.poll(), monitorTickCmd(m.interval))
}

func monitorTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// poll fetches status and stats in one round
func (m monitorModel) poll() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var msg pollMsg
		var status vpi.Status
		if err := fetch(ctx, client, "status", &status); err != nil {
			msg.err = err
			return msg
		}
		msg.status = &status

		var stats vpi.Stats
		if err := fetch(ctx, client, "stats", &stats); err != nil {
			msg.err = err
			return msg
		}
		msg.stats = &stats
		return msg
	}
}

// fetch sends line and decodes the reply's data field into v
func fetch(ctx context.Context, client Client, line string, v any) error {
	raw, err := client.Send(ctx, line)
	if err != nil {
		return err
	}
	reply := ParseReply(raw)
	if !reply.Result {
		return fmt.Errorf("%s: %s", line, reply.Text())
	}
	return json.Unmarshal(reply.Data, v)
}

func (m monitorModel) send(line string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		raw, err := client.Send(ctx, line)
		if err != nil {
			return replyMsg{line: line, err: err}
		}
		return replyMsg{line: line, reply: ParseReply(raw)}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.input.SetValue("")
			return m, nil
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.addLogEntry("> "+line, false)
			return m, m.send(line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case monitorTickMsg:
		return m, tea.Batch(m.poll(), monitorTickCmd(m.interval))

	case pollMsg:
		m.polls++
		if msg.err != nil {
			m.failures++
			if msg.err.Error() != m.lastError {
				m.addLogEntry(msg.err.Error(), true)
			}
			m.lastError = msg.err.Error()
			return m, nil
		}
		m.lastError = ""
		if m.status != nil && msg.status.Changed(*m.status) {
			m.addLogEntry(describeChange(*m.status, *msg.status), false)
		}
		m.status = msg.status
		m.stats = msg.stats
		return m, nil

	case replyMsg:
		switch {
		case msg.err != nil:
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.line, msg.err), true)
		case !msg.reply.Result:
			m.addLogEntry(fmt.Sprintf("%s => %s", msg.line, msg.reply.Text()), true)
		default:
			m.addLogEntry(fmt.Sprintf("%s => %s", msg.line, firstLine(msg.reply.Text())), false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, logEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(m.log) > maxLogEntries {
		m.log = m.log[len(m.log)-maxLogEntries:]
	}
}

// describeChange summarizes what differs between two status snapshots
func describeChange(prev, cur vpi.Status) string {
	var parts []string
	flag := func(name string, was, is bool) {
		if was != is {
			parts = append(parts, fmt.Sprintf("%s %s", name, onOffWord(is)))
		}
	}
	flag("running", prev.IsRunning, cur.IsRunning)
	flag("click", prev.HasClick, cur.HasClick)
	flag("error", prev.HasError, cur.HasError)
	flag("irq", prev.HasIRQ, cur.HasIRQ)
	flag("watchdog", prev.IsWdgEnabled, cur.IsWdgEnabled)
	flag("wake", prev.IsWakeEnabled, cur.IsWakeEnabled)
	flag("wake-irq", prev.IsWakeIRQEnabled, cur.IsWakeIRQEnabled)
	flag("output", prev.OutValue, cur.OutValue)
	if cur.PwrShort != prev.PwrShort || cur.PwrLong != prev.PwrLong {
		parts = append(parts, fmt.Sprintf("power short=%d long=%d", cur.PwrShort, cur.PwrLong))
	}
	if cur.AuxShort != prev.AuxShort || cur.AuxLong != prev.AuxLong {
		parts = append(parts, fmt.Sprintf("aux short=%d long=%d", cur.AuxShort, cur.AuxLong))
	}
	if len(parts) == 0 {
		return "status changed"
	}
	return strings.Join(parts, ", ")
}

func onOffWord(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// formatUptime formats a duration in milliseconds as a human-friendly string
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

	unit := func(n uint64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, unit(seconds, "second"))
	}
	return strings.Join(parts, ", ")
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("86")).
		Bold(true)

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)

	row := func(label, value string) string {
		return labelStyle.Render(fmt.Sprintf("%-16s", label)) + valueStyle.Render(value)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("vpid - Board Monitor"))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("Connection: %s  |  Watching for %s",
		m.connInfo, formatUptime(uint64(time.Since(m.started).Milliseconds())))))
	b.WriteString("\n\n")

	// Status panel
	var status strings.Builder
	status.WriteString(headerStyle.Render("Board Status"))
	status.WriteString("\n")
	switch {
	case m.status == nil && m.lastError != "":
		status.WriteString(errorStyle.Render(m.lastError))
	case m.status == nil:
		status.WriteString(labelStyle.Render("waiting for first poll..."))
	case !m.status.Integrity:
		status.WriteString(errorStyle.Render("register integrity check failed"))
	default:
		s := m.status
		status.WriteString(row("Running", onOffWord(s.IsRunning)) + "\n")
		status.WriteString(row("Power button", fmt.Sprintf("short=%d long=%d", s.PwrShort, s.PwrLong)) + "\n")
		status.WriteString(row("Aux button", fmt.Sprintf("short=%d long=%d", s.AuxShort, s.AuxLong)) + "\n")
		status.WriteString(row("Watchdog", onOffWord(s.IsWdgEnabled)) + "\n")
		status.WriteString(row("Wake", fmt.Sprintf("%s (irq %s)", onOffWord(s.IsWakeEnabled), onOffWord(s.IsWakeIRQEnabled))) + "\n")
		status.WriteString(row("Output", onOffWord(s.OutValue)) + "\n")
		if s.HasRPM {
			status.WriteString(row("Fan RPM", fmt.Sprintf("%d", s.RPM)) + "\n")
		}
		if s.HasError {
			status.WriteString(errorStyle.Render(fmt.Sprintf("Board errors: %d", s.ErrorCount)) + "\n")
		}
		status.WriteString(row("Config CRC", fmt.Sprintf("0x%02X", s.CRC)))
	}

	// Stats panel
	var stats strings.Builder
	stats.WriteString(headerStyle.Render("Driver Statistics"))
	stats.WriteString("\n")
	if st := m.stats; st != nil {
		stats.WriteString(row("Status checks", fmt.Sprintf("%d", st.StatusChecks)) + "\n")
		stats.WriteString(row("Retries", fmt.Sprintf("%d", st.Retries)) + "\n")
		stats.WriteString(row("Recovers", fmt.Sprintf("%d", st.Recovers)) + "\n")
		stats.WriteString(row("I/O errors", fmt.Sprintf("%d", st.IOErrors)) + "\n")
		stats.WriteString(row("I2C errors", fmt.Sprintf("%d", st.I2CErrors)) + "\n")
		stats.WriteString(row("CRC errors", fmt.Sprintf("%d", st.CRCErrors)) + "\n")
	}
	stats.WriteString(row("Polls", fmt.Sprintf("%d (%d failed)", m.polls, m.failures)))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(status.String()), " ", boxStyle.Render(stats.String())))
	b.WriteString("\n")

	// Event log
	var events strings.Builder
	events.WriteString(headerStyle.Render("Event Log"))
	events.WriteString("\n")
	if len(m.log) == 0 {
		events.WriteString(labelStyle.Render("no events yet"))
	}
	for i, e := range m.log {
		line := labelStyle.Render(e.timestamp.Format("15:04:05")) + " "
		if e.isError {
			line += errorStyle.Render(e.message)
		} else {
			line += e.message
		}
		events.WriteString(line)
		if i < len(m.log)-1 {
			events.WriteString("\n")
		}
	}
	b.WriteString(boxStyle.Render(events.String()))
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("enter: send  esc: clear  ctrl+c: quit"))
	return b.String()
}
