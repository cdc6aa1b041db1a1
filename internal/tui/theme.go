package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
)

// glyphs is the per-type rendering table for graph nodes.
var glyphs = map[model.NodeType]string{
	model.NodeBridge:       "⇄",
	model.NodeOrchestrator: "◎",
	model.NodeRepo:         "▣",
	model.NodeCluster:      "⬡",
	model.NodeManual:       "✎",
}

func glyph(t model.NodeType) string {
	if g, ok := glyphs[t]; ok {
		return g
	}
	return "•"
}

type theme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	inputPanel  lipgloss.Style
	muted       lipgloss.Style
	stale       lipgloss.Style

	nodeStatus  map[model.NodeStatus]lipgloss.Style
	stageStatus map[pipeline.StageStatus]lipgloss.Style
	palette     map[graph.Palette]lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffb86c")
	purple := lipgloss.Color("#b967ff")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		root: lipgloss.NewStyle().
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(pink).
			Foreground(lipgloss.Color("#22062f")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Background(lipgloss.Color("#2a184a")).
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		footer: lipgloss.NewStyle().
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		muted: lipgloss.NewStyle().Foreground(muted),
		stale: lipgloss.NewStyle().Foreground(amber).Bold(true),

		nodeStatus: map[model.NodeStatus]lipgloss.Style{
			model.NodePending: lipgloss.NewStyle().Foreground(muted),
			model.NodeRunning: lipgloss.NewStyle().Foreground(blue).Bold(true),
			model.NodeDone:    lipgloss.NewStyle().Foreground(mint),
			model.NodeFailed:  lipgloss.NewStyle().Foreground(pink).Bold(true),
			model.NodeDoubt:   lipgloss.NewStyle().Foreground(amber),
		},
		stageStatus: map[pipeline.StageStatus]lipgloss.Style{
			pipeline.StatusPending: lipgloss.NewStyle().Foreground(muted),
			pipeline.StatusDone:    lipgloss.NewStyle().Foreground(mint),
			pipeline.StatusError:   lipgloss.NewStyle().Foreground(pink).Bold(true),
		},
		palette: map[graph.Palette]lipgloss.Style{
			graph.PaletteDefault: lipgloss.NewStyle().Foreground(blue),
			graph.PaletteTunnel:  lipgloss.NewStyle().Foreground(purple),
		},
	}
}
