// Package tui is the live operator console: graph, pipeline, timeline and run
// log tabs redrawn from console events, with a prompt line for requests and
// slash commands.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/opconsole/internal/console"
	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
)

type tabID int

const (
	tabGraph tabID = iota
	tabPipeline
	tabTimeline
	tabRuns
	tabCount
)

var tabNames = [tabCount]string{"Graph", "Pipeline", "Timeline", "Runs"}

const (
	statusTick   = time.Second
	actionBudget = 30 * time.Second
)

type eventMsg struct {
	event console.Event
}

type actionDoneMsg struct {
	status string
	err    error
}

type tickMsg time.Time

// Model is the bubbletea model of the live console.
type Model struct {
	console *console.Console
	events  <-chan console.Event
	ctx     context.Context

	activeTab  tabID
	statusLine string
	statusErr  bool
	inflight   bool

	width  int
	height int

	input    textinput.Model
	content  viewport.Model
	spinner  spinner.Model
	theme    theme
	quitting bool
}

// New builds the model over c. events is the subscription the model reads;
// the caller owns cancelling it.
func New(ctx context.Context, c *console.Console, events <-chan console.Event) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Describe a change, or /approve <draft>, /reject <draft>, /run <draft>, /edit, /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	content := viewport.New(0, 0)
	content.MouseWheelEnabled = true
	content.MouseWheelDelta = 4

	return Model{
		console:    c,
		events:     events,
		ctx:        ctx,
		statusLine: "connecting...",
		input:      input,
		content:    content,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitEvent(m.events),
		tickEvery(statusTick),
	)
}

func waitEvent(ch <-chan console.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: e}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case eventMsg:
		if msg.event.Type == console.EventNotification {
			if n, ok := msg.event.Data.(console.Notification); ok {
				m.setStatus(n.Message, n.Level == console.LevelError)
			}
		} else if m.statusLine == "connecting..." {
			m.setStatus("live", false)
		}
		m.renderContent()
		cmds = append(cmds, waitEvent(m.events))
	case actionDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.setStatus("error: "+compact(msg.err.Error(), 160), true)
		} else if msg.status != "" {
			m.setStatus(msg.status, false)
		}
		m.renderContent()
	case tickMsg:
		// Redraw so staleness shows even when nothing arrives.
		cmds = append(cmds, tickEvery(statusTick))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderContent()
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.content, cmd = m.content.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.renderContent()
			return m, nil
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			m.renderContent()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.content, cmd = m.content.Update(msg)
			return m, cmd
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			cmd := m.submit(line)
			if cmd == nil {
				return m, nil
			}
			if m.quitting {
				return m, cmd
			}
			m.inflight = true
			return m, tea.Batch(m.spinner.Tick, cmd)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit turns one input line into a console action.
func (m *Model) submit(line string) tea.Cmd {
	if !strings.HasPrefix(line, "/") {
		m.activeTab = tabPipeline
		m.renderContent()
		return m.action(func(ctx context.Context) (string, error) {
			turn, err := m.console.Send(ctx, line)
			if err != nil {
				return "", err
			}
			return "draft " + turn.DraftID + " created", nil
		})
	}

	fields := strings.Fields(line)
	name, args := strings.TrimPrefix(fields[0], "/"), fields[1:]
	arg := func() (string, bool) {
		if len(args) == 0 {
			m.setStatus("/"+name+" needs an argument", true)
			return "", false
		}
		return args[0], true
	}

	switch name {
	case "quit", "q":
		m.quitting = true
		return tea.Quit
	case "help":
		m.setStatus("/approve /reject /run <draft> · /fit · /edit /add <label> /link <a> <b> /save /discard · /quit", false)
		return nil
	case "approve":
		id, ok := arg()
		if !ok {
			return nil
		}
		return m.action(func(ctx context.Context) (string, error) {
			res, err := m.console.Approve(ctx, id)
			if err != nil {
				return "", err
			}
			if res.Run != nil {
				return fmt.Sprintf("approved as %s, run %s started", res.Approved.ID, res.Run.ID), nil
			}
			return "approved as " + res.Approved.ID, nil
		})
	case "reject":
		id, ok := arg()
		if !ok {
			return nil
		}
		return m.action(func(ctx context.Context) (string, error) {
			if _, err := m.console.Reject(ctx, id); err != nil {
				return "", err
			}
			return "rejected " + id, nil
		})
	case "run":
		id, ok := arg()
		if !ok {
			return nil
		}
		m.activeTab = tabRuns
		return m.action(func(ctx context.Context) (string, error) {
			r, err := m.console.RunDraft(ctx, id)
			if err != nil {
				return "", err
			}
			return "run " + r.ID + " started", nil
		})
	case "fit":
		m.console.MarkFitted()
		m.setStatus("view fitted", false)
		return nil
	case "edit":
		m.activeTab = tabGraph
		m.report(m.console.EnterEdit(), "edit mode: polling paused")
		return nil
	case "discard":
		m.report(m.console.ExitEdit(), "edit discarded")
		return nil
	case "add":
		if len(args) == 0 {
			m.setStatus("/add needs a label", true)
			return nil
		}
		label := strings.Join(args, " ")
		var node graph.RenderNode
		err := m.console.Edit(func(e *graph.Editor) error {
			node = e.AddNode(label, model.Position{})
			return nil
		})
		m.report(err, "added "+node.ID)
		return nil
	case "link":
		if len(args) < 2 {
			m.setStatus("/link needs a source and a target", true)
			return nil
		}
		err := m.console.Edit(func(e *graph.Editor) error {
			_, err := e.AddEdge(args[0], args[1])
			return err
		})
		m.report(err, "linked "+args[0]+" → "+args[1])
		return nil
	case "save":
		return m.action(func(ctx context.Context) (string, error) {
			d, err := m.console.SaveEdit(ctx)
			if err != nil {
				return "", err
			}
			return "graph saved as draft " + d.ID, nil
		})
	}
	m.setStatus("unknown command /"+name, true)
	return nil
}

func (m *Model) action(fn func(ctx context.Context) (string, error)) tea.Cmd {
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, actionBudget)
		defer cancel()
		status, err := fn(ctx)
		return actionDoneMsg{status: status, err: err}
	}
}

func (m *Model) report(err error, ok string) {
	switch {
	case errors.Is(err, graph.ErrNotEditing):
		m.setStatus("not in edit mode; /edit first", true)
	case err != nil:
		m.setStatus("error: "+err.Error(), true)
	default:
		m.setStatus(ok, false)
	}
	m.renderContent()
}

func (m *Model) setStatus(s string, isErr bool) {
	m.statusLine = s
	m.statusErr = isErr
}

func (m *Model) resize() {
	contentWidth := max(40, m.width-4)
	m.input.Width = max(20, contentWidth-6)
	m.content.Width = max(20, contentWidth-4)
	m.content.Height = max(5, m.height-12)
}

func (m *Model) renderContent() {
	var body string
	switch m.activeTab {
	case tabGraph:
		body = renderGraph(m.theme, m.console.Graph())
	case tabPipeline:
		body = renderPipeline(m.theme, m.console.Pipeline())
	case tabTimeline:
		body = renderTimeline(m.theme, m.console.Timeline())
	case tabRuns:
		body = renderRuns(m.theme, m.console.Runs())
	}
	m.content.SetContent(body)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	contentWidth := max(40, m.width-4)

	tabs := make([]string, 0, tabCount+1)
	for i, name := range tabNames {
		style := m.theme.tabInactive
		if tabID(i) == m.activeTab {
			style = m.theme.tabActive
		}
		tabs = append(tabs, style.Render(name))
	}
	tabs = append(tabs, " "+renderStatus(m.theme, m.console.Status()))
	header := m.theme.header.Width(contentWidth).Render(lipgloss.JoinHorizontal(lipgloss.Left, tabs...))

	panel := m.theme.panel.Width(contentWidth).Render(m.content.View())
	input := m.theme.inputPanel.Width(contentWidth).Render(m.input.View())

	statusStyle := m.theme.status
	if m.statusErr {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(m.statusLine)
	if m.inflight {
		line = m.spinner.View() + " " + line
	}
	hints := m.theme.muted.Render("Keys: Tab switch view · Enter send · PgUp/PgDn scroll · /help commands · Ctrl+C quit")
	footer := m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)

	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, panel, input, footer))
}

// Run starts c's pollers and drives the live console until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, c *console.Console) error {
	events, cancel := c.Hub().Subscribe()
	defer cancel()

	c.Start(ctx)
	defer c.Stop()

	p := tea.NewProgram(New(ctx, c, events), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running console: %w", err)
	}
	return nil
}
