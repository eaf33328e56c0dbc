// Package ui renders the live jobs dashboard with Bubble Tea.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/govisionhq/lens/internal/state"
)

// Options configures the dashboard.
type Options struct {
	Store    *state.Store
	Identity string
	// Done reports whether the run has finished (uploads drained and polling
	// idle); the dashboard exits on its own once it returns true.
	Done func() bool
	// Expired reports whether the session has become unauthenticated. The
	// dashboard exits immediately, even with jobs still in flight, so the
	// caller can tell the user to log in again.
	Expired func() bool
}

const (
	refreshEvery = 400 * time.Millisecond
	truncateID   = 22
	truncateFile = 22
	truncatePath = 40
)

type tickMsg time.Time

// Model is the root Bubble Tea state for the dashboard.
type Model struct {
	store    *state.Store
	identity string
	done     func() bool
	expired  func() bool
	spinner  spinner.Model
	jobs     []state.Job
	width    int
	quitting bool
}

// New creates the dashboard model.
func New(opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle
	return Model{
		store:    opts.Store,
		identity: opts.Identity,
		done:     opts.Done,
		expired:  opts.Expired,
		spinner:  sp,
		jobs:     opts.Store.Snapshot(),
	}
}

// Run blocks until the dashboard exits.
func Run(opts Options) error {
	_, err := tea.NewProgram(New(opts)).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m.jobs = m.store.Snapshot()
		if m.expired != nil && m.expired() {
			m.quitting = true
			return m, tea.Quit
		}
		if m.done != nil && m.done() && allTerminal(m.jobs) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")

	if len(m.jobs) == 0 {
		b.WriteString(mutedStyle.Render("No jobs yet. Waiting for uploads..."))
	} else {
		b.WriteString(m.table())
	}

	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) header() string {
	title := titleStyle.Render("lens")
	count := mutedStyle.Render(fmt.Sprintf("%d job(s)", len(m.jobs)))
	parts := []string{title, count}
	if m.identity != "" {
		parts = append(parts, identityStyle.Render(m.identity))
	}
	return strings.Join(parts, "  ")
}

func (m Model) table() string {
	rows := make([]string, 0, len(m.jobs)+1)
	rows = append(rows, headerRowStyle.Render(fmt.Sprintf(
		"%-24s %-24s   %-10s %-6s %s", "ID", "FILE", "STATUS", "DET", "RESULT")))

	for _, job := range m.jobs {
		id := job.ID
		if job.Provisional {
			id = "..."
		}
		rows = append(rows, fmt.Sprintf("%-24s %-24s ",
			truncate(id, truncateID),
			truncate(job.FileName, truncateFile),
		)+m.statusBadge(job.Status)+fmt.Sprintf(" %-6s ", detectionCount(job))+resultColumn(job))
	}
	return strings.Join(rows, "\n")
}

// statusBadge renders the status with its color, prefixed by the spinner
// while the job is still in flight. The text is padded before styling so the
// ANSI codes do not skew column widths.
func (m Model) statusBadge(status state.Status) string {
	padded := fmt.Sprintf("%-10s", string(status))
	badge := statusStyle(status).Render(padded)
	if !status.Terminal() {
		return m.spinner.View() + " " + badge
	}
	return "  " + badge
}

func detectionCount(job state.Job) string {
	if job.Status != state.StatusCompleted {
		return "—"
	}
	return fmt.Sprintf("%d", len(job.Detections))
}

func resultColumn(job state.Job) string {
	switch job.Status {
	case state.StatusCompleted:
		if job.ArtifactPath != "" {
			return truncate(job.ArtifactPath, truncatePath)
		}
		return "done"
	case state.StatusFailed:
		if job.Error != "" {
			return errorStyle.Render(job.Error)
		}
		return errorStyle.Render("Error")
	default:
		return "—"
	}
}

func allTerminal(jobs []state.Job) bool {
	for _, job := range jobs {
		if !job.Status.Terminal() {
			return false
		}
	}
	return true
}

// truncate shortens s to max runes, replacing the tail with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
