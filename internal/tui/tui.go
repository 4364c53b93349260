// Package tui is the admin "consolidate --dry-run" viewer: an interactive
// bubbletea list of the narrative merges a consolidation pass would perform,
// with up/down/j/k navigation and lipgloss header/selected/normal styles,
// as a single read-only review screen.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"narrative-core/internal/narrative"
)

// model is the dry-run viewer's state: a flat list of merge candidates with
// cursor navigation.
type model struct {
	candidates []narrative.MergeCandidate
	selectedIdx int
	quitting    bool
	loadErr     error
}

// InitialModel runs PreviewConsolidation against engine and returns the
// viewer's starting state.
func InitialModel(ctx context.Context, engine *narrative.Engine, now time.Time) model {
	candidates, err := engine.PreviewConsolidation(ctx, now)
	return model{candidates: candidates, loadErr: err}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}
	case "down", "j":
		if m.selectedIdx < len(m.candidates)-1 {
			m.selectedIdx++
		}
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("105")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("57"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func (m model) View() string {
	if m.quitting {
		return "no changes made (dry run)\n"
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("narrative consolidation — dry run"))
	content.WriteString("\n\n")

	if m.loadErr != nil {
		content.WriteString(errorStyle.Render("error computing preview: " + m.loadErr.Error()))
		content.WriteString("\n")
		return content.String()
	}

	content.WriteString(headerStyle.Render(fmt.Sprintf("%d candidate merge(s)", len(m.candidates))))
	content.WriteString("\n\n")

	if len(m.candidates) == 0 {
		content.WriteString(normalStyle.Render("no narratives would be merged"))
		content.WriteString("\n")
	}

	for i, c := range m.candidates {
		line := fmt.Sprintf("%s  <-  %s  (sim=%.2f, survivor keeps %d articles, loses %d)",
			c.Survivor.Title, c.Loser.Title, c.Similarity, c.Survivor.ArticleCount, c.Loser.ArticleCount)
		if i == m.selectedIdx {
			content.WriteString(selectedStyle.Render("  > " + line))
		} else {
			content.WriteString(normalStyle.Render("    " + line))
		}
		content.WriteString("\n")
	}

	content.WriteString("\n")
	content.WriteString(normalStyle.Render("[up/down] browse  [q/esc] quit  — nothing is written in dry-run mode"))
	return content.String()
}

// Run starts the bubbletea program for the dry-run viewer and blocks until
// the user quits.
func Run(ctx context.Context, engine *narrative.Engine, now time.Time) error {
	p := tea.NewProgram(InitialModel(ctx, engine, now))
	_, err := p.Run()
	return err
}
