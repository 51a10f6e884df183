package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hughpyle/keep/internal/keeper"
)

const pendingTickInterval = time.Second

var (
	pendingHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("51")).
				Bold(true).
				Padding(0, 1)
	pendingLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pendingValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	pendingFooterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1)
)

// pendingStatsMsg carries one poll's queue snapshot into the Update loop.
type pendingStatsMsg struct {
	total   int
	byType  map[string]int
	err     error
}

type pendingTickMsg time.Time

// pendingModel is a bubbletea status display for `pending --daemon`,
// polling the live queue while the background processor drains it —
// grounded on the pack's metrics-dashboard TUI pattern (periodic tea.Tick
// driving a re-fetch), adapted from a poll-based HTTP metrics source to
// a direct pendingqueue.Queue read.
type pendingModel struct {
	keeper   *keeper.Keeper
	stats    pendingStatsMsg
	quitting bool
}

func newPendingModel(k *keeper.Keeper) pendingModel {
	return pendingModel{keeper: k}
}

func (m pendingModel) Init() tea.Cmd {
	return tea.Batch(pendingTick(), fetchPendingStats(m.keeper))
}

func pendingTick() tea.Cmd {
	return tea.Tick(pendingTickInterval, func(t time.Time) tea.Msg { return pendingTickMsg(t) })
}

func fetchPendingStats(k *keeper.Keeper) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		total, byType, err := k.QueueStats(ctx)
		if err != nil {
			return pendingStatsMsg{err: err}
		}
		return pendingStatsMsg{total: total, byType: byType}
	}
}

func (m pendingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case pendingTickMsg:
		return m, tea.Batch(pendingTick(), fetchPendingStats(m.keeper))
	case pendingStatsMsg:
		m.stats = msg
		return m, nil
	}
	return m, nil
}

func (m pendingModel) View() string {
	if m.quitting {
		return ""
	}
	header := pendingHeaderStyle.Render("keep pending queue")
	if m.stats.err != nil {
		return fmt.Sprintf("%s\n\n  error: %v\n", header, m.stats.err)
	}

	body := fmt.Sprintf("%s\n\n  %s %s\n", header,
		pendingLabelStyle.Render("total queued:"), pendingValueStyle.Render(fmt.Sprintf("%d", m.stats.total)))

	types := make([]string, 0, len(m.stats.byType))
	for t := range m.stats.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		body += fmt.Sprintf("  %s %s\n", pendingLabelStyle.Render(t+":"), pendingValueStyle.Render(fmt.Sprintf("%d", m.stats.byType[t])))
	}
	body += pendingFooterStyle.Render("\n  q: quit")
	return body
}
