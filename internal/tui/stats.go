// SPDX-License-Identifier: MIT
//
// Package tui renders a live terminal dashboard of pipeline activity.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"csi/internal/csi"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D7D7D")).
			Width(16)

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E8A33D")).
			Bold(true)
)

// DefaultRefresh is the dashboard redraw interval.
const DefaultRefresh = 250 * time.Millisecond

type keyMap struct {
	Quit  key.Binding
	Pause key.Binding
}

var keys = keyMap{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	Pause: key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause")),
}

type tickMsg time.Time

// StatsModel is the Bubble Tea model of the dashboard.
type StatsModel struct {
	source   func() csi.Stats
	interval time.Duration
	bar      progress.Model

	current  csi.Stats
	previous csi.Stats
	rate     float64 // Delivered frames per second over the last interval
	paused   bool
	quitting bool
}

// NewStatsModel creates a dashboard polling source every interval.
func NewStatsModel(source func() csi.Stats, interval time.Duration) StatsModel {
	if interval <= 0 {
		interval = DefaultRefresh
	}
	return StatsModel{
		source:   source,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m StatsModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-24))

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
		}

	case tickMsg:
		if !m.paused {
			m.previous, m.current = m.current, m.source()
			if m.previous.Uptime > 0 && m.current.Uptime > m.previous.Uptime {
				dt := (m.current.Uptime - m.previous.Uptime).Seconds()
				m.rate = float64(m.current.Delivered-m.previous.Delivered) / dt
			}
		}
		return m, m.tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	s := m.current
	var sb strings.Builder

	title := "CSI Capture"
	if s.Session != "" {
		title += " " + s.Session[:min(8, len(s.Session))]
	}
	sb.WriteString(titleStyle.Render(title))
	if m.paused {
		sb.WriteString(" " + warnStyle.Render("PAUSED"))
	}
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label) + infoStyle.Render(value) + "\n")
	}
	row("Uptime", s.Uptime.Truncate(time.Second).String())
	row("Captured", fmt.Sprintf("%d", s.Captured))
	row("Delivered", highlightStyle.Render(fmt.Sprintf("%d", s.Delivered))+infoStyle.Render(fmt.Sprintf("  (%.1f/s)", m.rate)))
	row("Rejected", fmt.Sprintf("%d", s.Rejected))

	dropped := fmt.Sprintf("%d  (queue %d, alloc %d, not ready %d, sink %d)",
		s.Dropped(), s.QueueDrops, s.AllocFailures, s.NotReady, s.SinkErrors)
	if s.Dropped() > 0 {
		dropped = warnStyle.Render(dropped)
	}
	row("Dropped", dropped)
	row("Outstanding", fmt.Sprintf("%d", s.Outstanding))

	sb.WriteString("\n")
	sb.WriteString(labelStyle.Render("Queue") + m.bar.ViewAs(queueFill(s)) +
		infoStyle.Render(fmt.Sprintf("  %d/%d", s.QueueDepth, s.QueueCapacity)) + "\n\n")

	sb.WriteString(infoStyle.Render(fmt.Sprintf("%s: %s • %s: %s",
		keys.Pause.Help().Key, keys.Pause.Help().Desc,
		keys.Quit.Help().Key, keys.Quit.Help().Desc)))
	return sb.String()
}

func queueFill(s csi.Stats) float64 {
	if s.QueueCapacity <= 0 {
		return 0
	}
	return float64(s.QueueDepth) / float64(s.QueueCapacity)
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, source func() csi.Stats, interval time.Duration) error {
	p := tea.NewProgram(
		NewStatsModel(source, interval),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
