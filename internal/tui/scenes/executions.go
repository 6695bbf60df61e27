package scenes

import (
	"fmt"
	"strings"
	"time"

	"threat-sentinel/internal/tui/api"
	"threat-sentinel/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ExecutionsScene displays recent runbook executions
type ExecutionsScene struct {
	client     *api.Client
	executions []api.Execution
	stats      *api.ExecutionStats
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// executionsMsg carries updated executions
type executionsMsg struct {
	executions []api.Execution
	stats      *api.ExecutionStats
	err        string
}

// NewExecutionsScene creates a new executions scene
func NewExecutionsScene(client *api.Client) *ExecutionsScene {
	return &ExecutionsScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init initializes the executions scene
func (e *ExecutionsScene) Init() tea.Cmd {
	return e.fetchExecutions()
}

func (e *ExecutionsScene) fetchExecutions() tea.Cmd {
	return func() tea.Msg {
		resp, err := e.client.GetExecutions(100)
		if err != nil {
			return executionsMsg{err: err.Error()}
		}
		stats, err := e.client.GetExecutionStats()
		if err != nil {
			return executionsMsg{executions: resp.Executions, err: err.Error()}
		}
		return executionsMsg{executions: resp.Executions, stats: stats}
	}
}

// TickCmd returns a command that ticks every interval
func (e *ExecutionsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "executions", Time: t}
	})
}

// Update handles messages for the executions scene
func (e *ExecutionsScene) Update(msg tea.Msg) (*ExecutionsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		e.width = msg.Width
		e.height = msg.Height
		e.maxRows = max(5, e.height-12)
		return e, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if e.cursor > 0 {
				e.cursor--
				if e.cursor < e.offset {
					e.offset = e.cursor
				}
			}
		case "down", "j":
			if e.cursor < len(e.executions)-1 {
				e.cursor++
				if e.cursor >= e.offset+e.maxRows {
					e.offset = e.cursor - e.maxRows + 1
				}
			}
		case "r":
			e.loading = true
			return e, e.fetchExecutions()
		}
		return e, nil

	case executionsMsg:
		e.loading = false
		e.executions = msg.executions
		e.stats = msg.stats
		e.err = msg.err
		e.lastUpdate = time.Now()
		if e.cursor >= len(e.executions) {
			e.cursor = max(0, len(e.executions)-1)
		}
		return e, nil

	case TickMsg:
		if msg.Scene == "executions" {
			return e, e.fetchExecutions()
		}
		return e, nil
	}

	return e, nil
}

// View renders the execution list
func (e *ExecutionsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Runbook Executions"))
	b.WriteString("\n\n")

	if e.loading && len(e.executions) == 0 {
		b.WriteString(styles.Muted.Render("  Loading executions..."))
		return b.String()
	}

	if e.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", e.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if e.stats != nil {
		summary := fmt.Sprintf("  Total: %d   Completed: %d   Partial: %d   Failed: %d   Success: %.0f%%",
			e.stats.Total, e.stats.Completed, e.stats.Partial, e.stats.Failed, e.stats.SuccessRate*100)
		b.WriteString(styles.Subtitle.Render(summary))
		b.WriteString("\n\n")
	}

	if len(e.executions) == 0 {
		b.WriteString(styles.Muted.Render("  No executions yet."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Executions appear once alerts match an enabled runbook."))
		return b.String()
	}

	header := fmt.Sprintf("  %-10s %-24s %-10s %-8s %s",
		"Time", "Runbook", "Status", "Actions", "Error")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(e.offset+e.maxRows, len(e.executions))
	for i, exec := range e.executions[e.offset:endIdx] {
		b.WriteString(e.renderExecutionRow(exec, e.offset+i == e.cursor))
		b.WriteString("\n")
	}

	if len(e.executions) > e.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [r] refresh)",
			e.offset+1, endIdx, len(e.executions))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !e.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", e.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (e *ExecutionsScene) renderExecutionRow(exec api.Execution, selected bool) string {
	actions := fmt.Sprintf("%d/%d", exec.ActionsExecuted, exec.ActionsFailed)
	row := fmt.Sprintf("  %-10s %-24s %s %-8s %s",
		exec.StartedAt.Format("15:04:05"),
		truncate(exec.RunbookName, 24),
		formatStatus(exec.Status),
		actions,
		truncate(exec.ErrorMessage, 40))

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}
	return row
}

func formatStatus(status string) string {
	var style lipgloss.Style
	switch status {
	case "completed":
		style = styles.StatusOK
	case "partial":
		style = styles.StatusWarning
	case "failed":
		style = styles.StatusError
	default:
		style = styles.Muted
	}
	return style.Render(fmt.Sprintf("%-10s", status))
}
