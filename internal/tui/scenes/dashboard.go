// Package scenes provides TUI scenes for threat-sentinel
package scenes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"threat-sentinel/internal/tui/api"
	"threat-sentinel/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TickMsg is sent on each refresh tick - exported for use by the parent model
type TickMsg struct {
	Scene string
	Time  time.Time
}

// DashboardScene displays the correlation overview and environment risk
type DashboardScene struct {
	client     *api.Client
	stats      *api.Statistics
	risk       *api.Risk
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// dashboardMsg carries updated overview data
type dashboardMsg struct {
	stats *api.Statistics
	risk  *api.Risk
	err   error
}

// NewDashboardScene creates a new dashboard scene
func NewDashboardScene(client *api.Client) *DashboardScene {
	return &DashboardScene{
		client:  client,
		loading: true,
	}
}

// Init initializes the dashboard scene - fetches initial data
func (d *DashboardScene) Init() tea.Cmd {
	return d.fetchOverview()
}

// fetchOverview fetches statistics and risk from the API
func (d *DashboardScene) fetchOverview() tea.Cmd {
	return func() tea.Msg {
		stats, err := d.client.GetStatistics()
		if err != nil {
			return dashboardMsg{err: err}
		}
		risk, err := d.client.GetRisk()
		if err != nil {
			return dashboardMsg{stats: stats, err: err}
		}
		return dashboardMsg{stats: stats, risk: risk}
	}
}

// TickCmd returns a command that ticks every interval
// IMPORTANT: This is returned by the parent model only when this scene is active
func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

// Update handles messages for the dashboard
func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil

	case dashboardMsg:
		d.loading = false
		d.stats = msg.stats
		d.risk = msg.risk
		d.err = msg.err
		d.lastUpdate = time.Now()
		return d, nil

	case TickMsg:
		// Only respond to our own ticks
		if msg.Scene == "dashboard" {
			return d, d.fetchOverview()
		}
		return d, nil
	}

	return d, nil
}

// View renders the dashboard
func (d *DashboardScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Threat Sentinel"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}

	if d.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %v", d.err)))
		b.WriteString("\n\n")
	}

	if d.risk != nil {
		b.WriteString(fmt.Sprintf("  Environment risk: %s  %s\n\n",
			renderLevel(d.risk.Level),
			styles.Muted.Render(d.risk.Status)))
	}

	if d.stats != nil {
		cards := []string{
			d.renderMetricCard("Events", fmt.Sprintf("%d", d.stats.TotalEvents)),
			d.renderMetricCard("Unique IPs", fmt.Sprintf("%d", d.stats.UniqueIPs)),
			d.renderMetricCard("Patterns", fmt.Sprintf("%d", d.stats.PatternCount)),
			d.renderMetricCard("Window", fmt.Sprintf("%.0fm", d.stats.WindowMinutes)),
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
		b.WriteString("\n\n")

		if len(d.stats.PatternsByType) > 0 {
			b.WriteString(styles.Subtitle.Render("  Patterns by type"))
			b.WriteString("\n")
			b.WriteString(renderCountTable(d.stats.PatternsByType))
			b.WriteString("\n")
		}
	}

	if !d.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", d.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (d *DashboardScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(16).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)

	return card.Render(content)
}

func renderCountTable(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows []string
	for _, k := range keys {
		rows = append(rows, fmt.Sprintf("    %-24s %d", k, counts[k]))
	}
	return strings.Join(rows, "\n")
}

// renderLevel maps a threat level to a colored label.
func renderLevel(level string) string {
	label := strings.ToUpper(level)
	switch level {
	case "critical", "high":
		return styles.StatusError.Render(label)
	case "medium":
		return styles.StatusWarning.Render(label)
	case "low":
		return styles.StatusOK.Render(label)
	default:
		return styles.Muted.Render(label)
	}
}
