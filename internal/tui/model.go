// Package tui renders a live dashboard for a running benchmark.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"inferload/internal/config"
	"inferload/internal/orchestrator"
)

const tickInterval = 200 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")).MarginBottom(1)
	statStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	subtle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

// doneMsg signals that the orchestrator closed the updates channel.
type doneMsg struct{}

// Model is the bubbletea model for the live view. It consumes
// orchestrator snapshots and keeps only the latest one.
type Model struct {
	Cfg      *config.Config
	Updates  orchestrator.SnapshotChan
	Progress progress.Model

	latest   orchestrator.Snapshot
	haveSnap bool
	Quitting bool
	Done     bool
	Width    int
}

func NewModel(cfg *config.Config, updates orchestrator.SnapshotChan) Model {
	return Model{
		Cfg:      cfg,
		Updates:  updates,
		Progress: progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitForSnapshot())
}

// waitForSnapshot blocks on the updates channel in a Cmd goroutine so
// the event loop stays responsive.
func (m Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.Updates
		if !ok {
			return doneMsg{}
		}
		return s
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Quitting = true
			return m, tea.Quit
		}

	case orchestrator.Snapshot:
		m.latest = msg
		m.haveSnap = true
		return m, m.waitForSnapshot()

	case doneMsg:
		m.Done = true
		return m, tea.Quit

	case tickMsg:
		pct := 0.0
		if m.haveSnap && m.latest.Duration > 0 {
			pct = float64(m.latest.Elapsed) / float64(m.latest.Duration)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, tea.Batch(m.Progress.SetPercent(pct), tickCmd())

	case progress.FrameMsg:
		progressModel, cmd := m.Progress.Update(msg)
		m.Progress = progressModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.Quitting {
		return "Benchmark interrupted.\n"
	}
	if m.Done {
		return "Benchmark complete, writing reports...\n"
	}

	s := strings.Builder{}
	s.WriteString(titleStyle.Render("🚀 Inferload Benchmark"))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Server: %s | Model: %s\n", m.Cfg.Server.BaseURL, m.Cfg.Server.Model))

	if !m.haveSnap {
		s.WriteString(subtle.Render("waiting for first stage..."))
		s.WriteString("\n")
		return s.String()
	}

	snap := m.latest
	s.WriteString(subtle.Render(fmt.Sprintf("Stage %d/%d | %s | %.1f rps | %s / %s",
		snap.Stage+1, snap.TotalStages, snap.State, snap.Rate,
		snap.Elapsed.Round(time.Second), snap.Duration)))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString("\n\n")

	cols := []string{
		statStyle.Render(fmt.Sprintf("Dispatched: %d", snap.Dispatched)),
		statStyle.Render(fmt.Sprintf("OK: %d", snap.OK)),
		warnStyle.Render(fmt.Sprintf("Inflight: %d", snap.Inflight)),
	}
	if snap.Failed > 0 {
		cols = append(cols, errStyle.Render(fmt.Sprintf("Failed: %d", snap.Failed)))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(cols, "   ")))
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("Latency p50: %.0fms  p99: %.0fms  |  Avg schedule delay: %.1fms\n",
		snap.P50LatencyMs, snap.P99LatencyMs, snap.AvgDelayMs))

	s.WriteString("\n")
	s.WriteString(subtle.Render("q / ctrl+c to abort"))
	s.WriteString("\n")
	return s.String()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
