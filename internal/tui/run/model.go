package run

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CarpseDeam/Claude-Conductor/internal/stream"
)

// maxDisplayLines bounds the scrollback kept for rendering.
const maxDisplayLines = 2000

type updateMsg AgentUpdate
type streamClosedMsg struct{}
type outcomeMsg Outcome
type tickMsg time.Time

// Model is the BubbleTea model for a single task run.
type Model struct {
	runner *Runner
	prompt string
	ctx    context.Context

	title string
	theme Theme

	width  int
	height int
	ready  bool

	viewport viewport.Model
	spinner  spinner.Model

	lines   []string
	outcome *Outcome
	started time.Time
}

func NewModel(ctx context.Context, r *Runner, prompt, agentTitle string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		runner:  r,
		prompt:  prompt,
		ctx:     ctx,
		title:   agentTitle,
		theme:   NewDefaultTheme(),
		spinner: sp,
		started: time.Now(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.startRunner(),
		m.receiveNextUpdate(),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m *Model) startRunner() tea.Cmd {
	return func() tea.Msg {
		return outcomeMsg(m.runner.Run(m.ctx, m.prompt))
	}
}

func (m *Model) receiveNextUpdate() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.runner.Updates()
		if !ok {
			return streamClosedMsg{}
		}
		return updateMsg(update)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// Quitting mid-run abandons the task; the runner's shutdown
			// hook files the failure report.
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 3
		footerHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshViewport()

	case updateMsg:
		m.appendUpdate(AgentUpdate(msg))
		m.refreshViewport()
		return m, m.receiveNextUpdate()

	case streamClosedMsg:
		return m, nil

	case outcomeMsg:
		out := Outcome(msg)
		m.outcome = &out
		m.refreshViewport()
		return m, nil

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) appendUpdate(update AgentUpdate) {
	line := m.renderUpdate(update)
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
	if len(m.lines) > maxDisplayLines {
		m.lines = m.lines[len(m.lines)-maxDisplayLines:]
	}
}

func (m *Model) renderUpdate(update AgentUpdate) string {
	ev := update.Event

	if update.Compacted != nil {
		c := update.Compacted
		badge := m.theme.ResultOK.Render("OK")
		body := m.theme.Dim.Render(c.Summary)
		if c.Failed() {
			badge = m.theme.ResultFailed.Render("FAILED")
			body = m.theme.StatusFailed.Render(c.Summary)
		}
		out := badge + " " + body
		for _, f := range c.Failures {
			out += "\n  " + m.theme.Dim.Render(fmt.Sprintf("%s:%d  %s", f.File, f.Line, f.Message))
		}
		return out
	}

	switch ev.Kind {
	case stream.KindSession:
		parts := make([]string, 0, 2)
		if ev.SessionID != "" {
			parts = append(parts, "session "+short(ev.SessionID))
		}
		if ev.Model != "" {
			parts = append(parts, "model "+ev.Model)
		}
		if len(parts) == 0 {
			return ""
		}
		return m.theme.Dim.Render("[" + strings.Join(parts, " | ") + "]")

	case stream.KindText:
		return m.theme.Text.Render(strings.TrimRight(ev.Text, "\n"))

	case stream.KindToolCall:
		return m.renderToolCall(ev)

	case stream.KindToolResult:
		if ev.IsError {
			return m.theme.ResultFailed.Render("FAILED") + " " +
				m.theme.StatusFailed.Render(truncate(flatten(ev.Text), 200))
		}
		preview := truncate(flatten(ev.Text), 100)
		if preview == "" {
			return m.theme.ResultOK.Render("OK")
		}
		return m.theme.ResultOK.Render("OK") + " " + m.theme.Dim.Render(preview)

	case stream.KindRaw:
		return m.theme.Dim.Render(ev.Text)

	case stream.KindResult, stream.KindUnknown:
		return ""
	}
	return ""
}

func (m *Model) renderToolCall(ev stream.Event) string {
	var badge lipgloss.Style
	var label string
	switch stream.ClassifyTool(ev.Tool) {
	case stream.ToolRead:
		badge, label = m.theme.BadgeRead, "READ"
	case stream.ToolWrite:
		badge, label = m.theme.BadgeEdit, "EDIT"
	case stream.ToolShell:
		badge, label = m.theme.BadgeShell, "SHELL"
	case stream.ToolSearch:
		badge, label = m.theme.BadgeSearch, "SEARCH"
	case stream.ToolList:
		badge, label = m.theme.BadgeSearch, "LS"
	case stream.ToolTodo:
		badge, label = m.theme.BadgeTodo, "TODO"
	default:
		badge, label = m.theme.BadgeOther, strings.ToUpper(truncate(ev.Tool, 8))
	}

	detail := toolDetail(ev)
	if stream.ClassifyTool(ev.Tool) == stream.ToolRead || stream.ClassifyTool(ev.Tool) == stream.ToolWrite {
		if ev.Path != "" {
			detail = filepath.Base(ev.Path)
		}
	}
	return badge.Render(label) + " " + m.theme.Dim.Render(detail)
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	if m.outcome != nil {
		content += "\n\n" + m.renderSummaryCard()
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m *Model) renderSummaryCard() string {
	out := m.outcome

	var status string
	if out.Success {
		status = m.theme.StatusDone.Render("completed")
	} else {
		status = m.theme.StatusFailed.Render("failed")
	}

	lines := []string{
		m.theme.Title.Render("Summary"),
		"Status: " + status,
		"Duration: " + time.Since(m.started).Round(time.Second).String(),
		fmt.Sprintf("Files modified: %d", len(out.FilesModified)),
	}
	if len(out.FilesModified) > 0 {
		names := make([]string, 0, len(out.FilesModified))
		for _, f := range out.FilesModified {
			names = append(names, filepath.Base(f))
		}
		lines = append(lines, m.theme.Dim.Render("  "+strings.Join(names, ", ")))
	}
	if out.Err != nil {
		lines = append(lines, m.theme.StatusFailed.Render("Error: "+out.Err.Error()))
	}
	return m.theme.Border.Render(strings.Join(lines, "\n"))
}

func (m *Model) View() string {
	if !m.ready {
		return "Starting " + m.title + "..."
	}

	var status string
	switch {
	case m.outcome == nil:
		status = m.spinner.View() + m.theme.StatusRunning.Render(
			fmt.Sprintf(" Running... %s", time.Since(m.started).Round(time.Second)))
	case m.outcome.Success:
		status = m.theme.StatusDone.Render("Done")
	default:
		status = m.theme.StatusFailed.Render("Failed")
	}

	header := m.theme.Title.Render(m.title) + "  " + status
	help := m.theme.Dim.Render(" [q] close")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		help,
	)
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
