// Package tui renders a live terminal view of the sync engine.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"toolsync/models"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rohanthewiz/logger"
)

// Source is the part of the orchestrator the watch view needs.
type Source interface {
	GetState() models.SyncState
	GetStats(ctx context.Context) (models.SyncStats, error)
	TriggerSync(ctx context.Context) error
	AddListener(fn func(models.SyncState)) func()
}

const statsRefresh = 2 * time.Second

type stateMsg models.SyncState

type statsMsg struct {
	stats models.SyncStats
	err   error
}

type statsTickMsg struct{}

type triggerDoneMsg struct{ err error }

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Width(16)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Faint(true)

	statusColors = map[models.SyncStatus]lipgloss.Color{
		models.StatusIdle:    lipgloss.Color("245"),
		models.StatusSyncing: lipgloss.Color("39"),
		models.StatusSynced:  lipgloss.Color("42"),
		models.StatusOffline: lipgloss.Color("214"),
		models.StatusError:   lipgloss.Color("196"),
	}
)

// WatchModel is the bubbletea model behind `toolsync watch`.
type WatchModel struct {
	src         Source
	updates     chan models.SyncState
	unsubscribe func()

	spinner spinner.Model
	state   models.SyncState
	stats   *models.SyncStats
	lastErr error
	now     func() time.Time
}

// NewWatchModel subscribes to src. The subscription is released when the
// user quits.
func NewWatchModel(src Source) WatchModel {
	updates := make(chan models.SyncState, 16)
	unsubscribe := src.AddListener(func(s models.SyncState) {
		select {
		case updates <- s:
		default:
			// the stats tick catches up with anything dropped here
		}
	})

	return WatchModel{
		src:         src,
		updates:     updates,
		unsubscribe: unsubscribe,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		state:       src.GetState(),
		now:         time.Now,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForState(m.updates), fetchStats(m.src))
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.unsubscribe()
			return m, tea.Quit
		case "s":
			return m, triggerSync(m.src)
		}
		return m, nil

	case stateMsg:
		m.state = models.SyncState(msg)
		return m, waitForState(m.updates)

	case statsMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			stats := msg.stats
			m.stats = &stats
		}
		return m, tea.Tick(statsRefresh, func(time.Time) tea.Msg { return statsTickMsg{} })

	case statsTickMsg:
		return m, fetchStats(m.src)

	case triggerDoneMsg:
		m.lastErr = msg.err
		return m, fetchStats(m.src)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("toolsync") + "\n\n")

	status := lipgloss.NewStyle().Foreground(statusColors[m.state.Status]).Render(string(m.state.Status))
	if m.state.Status == models.StatusSyncing {
		status = m.spinner.View() + " " + status
	}
	sb.WriteString(row("Status", status))
	sb.WriteString(row("Queued", fmt.Sprint(m.state.QueueSize)))

	if m.stats != nil {
		sb.WriteString(row("Failed", fmt.Sprint(m.stats.FailedCount)))
		online := "no"
		if m.stats.IsOnline {
			online = "yes"
		}
		sb.WriteString(row("Hub reachable", online))
	}

	lastSync := "never"
	if m.state.LastSync != nil {
		lastSync = m.now().Sub(*m.state.LastSync).Round(time.Second).String() + " ago"
	}
	sb.WriteString(row("Last sync", lastSync))

	if m.state.Error != "" {
		sb.WriteString("\n" + errStyle.Render(m.state.Error) + "\n")
	}
	if m.lastErr != nil {
		sb.WriteString("\n" + errStyle.Render(m.lastErr.Error()) + "\n")
	}

	sb.WriteString("\n" + helpStyle.Render("s: sync now • q: quit") + "\n")
	return sb.String()
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func waitForState(updates <-chan models.SyncState) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-updates)
	}
}

func fetchStats(src Source) tea.Cmd {
	return func() tea.Msg {
		stats, err := src.GetStats(context.Background())
		return statsMsg{stats: stats, err: err}
	}
}

func triggerSync(src Source) tea.Cmd {
	return func() tea.Msg {
		err := src.TriggerSync(context.Background())
		if err != nil {
			logger.LogErr(err, "manual sync failed")
		}
		return triggerDoneMsg{err: err}
	}
}

// Watch runs the view until the user quits.
func Watch(src Source) error {
	_, err := tea.NewProgram(NewWatchModel(src)).Run()
	return err
}
