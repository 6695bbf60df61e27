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

// PatternsScene displays active correlated attack patterns
type PatternsScene struct {
	client     *api.Client
	patterns   []api.Pattern
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// patternsMsg carries updated patterns
type patternsMsg struct {
	patterns []api.Pattern
	err      string
}

// NewPatternsScene creates a new patterns scene
func NewPatternsScene(client *api.Client) *PatternsScene {
	return &PatternsScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init initializes the patterns scene
func (p *PatternsScene) Init() tea.Cmd {
	return p.fetchPatterns()
}

func (p *PatternsScene) fetchPatterns() tea.Cmd {
	return func() tea.Msg {
		resp, err := p.client.GetPatterns(100)
		if err != nil {
			return patternsMsg{err: err.Error()}
		}
		return patternsMsg{patterns: resp.Patterns}
	}
}

// TickCmd returns a command that ticks every interval
func (p *PatternsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "patterns", Time: t}
	})
}

// Update handles messages for the patterns scene
func (p *PatternsScene) Update(msg tea.Msg) (*PatternsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		p.maxRows = max(5, p.height-12)
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.cursor > 0 {
				p.cursor--
				if p.cursor < p.offset {
					p.offset = p.cursor
				}
			}
		case "down", "j":
			if p.cursor < len(p.patterns)-1 {
				p.cursor++
				if p.cursor >= p.offset+p.maxRows {
					p.offset = p.cursor - p.maxRows + 1
				}
			}
		case "r":
			// Manual refresh
			p.loading = true
			return p, p.fetchPatterns()
		}
		return p, nil

	case patternsMsg:
		p.loading = false
		p.patterns = msg.patterns
		p.err = msg.err
		p.lastUpdate = time.Now()
		if p.cursor >= len(p.patterns) {
			p.cursor = max(0, len(p.patterns)-1)
		}
		return p, nil

	case TickMsg:
		if msg.Scene == "patterns" {
			return p, p.fetchPatterns()
		}
		return p, nil
	}

	return p, nil
}

// View renders the pattern list
func (p *PatternsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Attack Patterns"))
	b.WriteString("\n\n")

	if p.loading && len(p.patterns) == 0 {
		b.WriteString(styles.Muted.Render("  Loading patterns..."))
		return b.String()
	}

	if p.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", p.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(p.patterns) == 0 {
		b.WriteString(styles.Muted.Render("  No active patterns."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Patterns appear once correlated activity is detected in the window."))
		return b.String()
	}

	header := fmt.Sprintf("  %-20s %-10s %-6s %-5s %s",
		"Type", "Severity", "Conf", "IPs", "Last Seen")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(p.offset+p.maxRows, len(p.patterns))
	for i, pat := range p.patterns[p.offset:endIdx] {
		b.WriteString(p.renderPatternRow(pat, p.offset+i == p.cursor))
		b.WriteString("\n")
	}

	// Selected pattern detail
	if p.cursor < len(p.patterns) {
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render("  " + p.patterns[p.cursor].Description))
		b.WriteString("\n")
	}

	if len(p.patterns) > p.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [r] refresh)",
			p.offset+1, endIdx, len(p.patterns))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !p.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", p.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (p *PatternsScene) renderPatternRow(pat api.Pattern, selected bool) string {
	row := fmt.Sprintf("  %-20s %s %-6.2f %-5d %s",
		truncate(pat.Type, 20),
		formatSeverity(pat.Severity),
		pat.Confidence,
		len(pat.AttackerIPs),
		pat.LastSeen.Format("15:04:05"))

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}
	return row
}

func formatSeverity(sev string) string {
	var style lipgloss.Style
	switch sev {
	case "critical", "high":
		style = styles.StatusError
	case "medium":
		style = styles.StatusWarning
	case "low":
		style = styles.StatusOK
	default:
		style = styles.Muted
	}
	return style.Render(fmt.Sprintf("%-10s", strings.ToUpper(sev)))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
