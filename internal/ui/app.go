// Package ui renders the widget in a terminal.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"concierge-widget/internal/models"
	"concierge-widget/internal/widget"
)

// Controller is the part of the widget the terminal drives.
type Controller interface {
	View() widget.View
	Open(ctx context.Context) error
	Retry(ctx context.Context) error
	Close()
	Tick()
}

const tickInterval = 80 * time.Millisecond

type viewMsg widget.View

type tickMsg time.Time

type resultMsg struct{ err error }

// Model is the bubbletea model for the widget panel.
type Model struct {
	ctx      context.Context
	ctl      Controller
	view     widget.View
	width    int
	height   int
	quitting bool
}

// NewModel creates a model driving ctl.
func NewModel(ctx context.Context, ctl Controller) Model {
	return Model{
		ctx:    ctx,
		ctl:    ctl,
		view:   ctl.View(),
		width:  80,
		height: 24,
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case viewMsg:
		m.view = widget.View(msg)
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.do(m.ctl.Tick), tick())

	case resultMsg:
		// Failures already show up in the view.
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Sequence(m.do(m.ctl.Close), tea.Quit)

	case "enter", "o":
		if !m.view.Open() {
			return m, m.run(m.ctl.Open)
		}

	case "r":
		if m.view.CanRetry() {
			return m, m.run(m.ctl.Retry)
		}

	case "esc", "x":
		if m.view.Open() {
			return m, m.do(m.ctl.Close)
		}
	}
	return m, nil
}

// do runs fn off the event loop. Controller calls publish views back into
// the program, so they must never run inside Update.
func (m Model) do(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m Model) run(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{err: fn(ctx)}
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Concierge"))
	b.WriteString("\n\n")

	v := m.view
	if !v.Open() {
		b.WriteString(dimStyle.Render("Press enter to talk to the concierge."))
		b.WriteString("\n\n")
		b.WriteString(m.help())
		return b.String()
	}

	if v.Message != "" {
		b.WriteString(v.Message)
		b.WriteString("\n")
	}
	if v.Error != "" {
		b.WriteString(errorStyle.Render(v.Error))
		b.WriteString("\n")
	}

	if v.Phase == widget.PhaseSession && v.SessionState == models.StateConnected {
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			renderVideo(v), "  ", renderBars(v)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderLog(v.Log, m.width, m.logRows()))
	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(fmt.Sprintf("%s | %s | agent %s", v.Phase, v.State, v.AgentState)))
	b.WriteString("\n")
	b.WriteString(m.help())
	return b.String()
}

func (m Model) logRows() int {
	rows := m.height - 14
	if rows < 3 {
		rows = 3
	}
	return rows
}

func (m Model) help() string {
	switch {
	case !m.view.Open():
		return helpStyle.Render("enter open • q quit")
	case m.view.CanRetry():
		return helpStyle.Render("r retry • esc close • q quit")
	default:
		return helpStyle.Render("esc close • q quit")
	}
}

func renderVideo(v widget.View) string {
	if !v.Video.Present {
		return videoStyle.Render(pendingStyle.Render(widget.MessageWaiting))
	}
	t := v.Video.Track
	who := t.ParticipantName
	if who == "" {
		who = t.ParticipantIdentity
	}
	return videoStyle.Render(fmt.Sprintf("▶ %s\n%s", who, dimStyle.Render(t.SID)))
}

var levels = []rune("▁▂▃▄▅▆▇█")

func renderBars(v widget.View) string {
	f := v.Activity
	if f.Inert() {
		return dimStyle.Render(strings.Repeat(" ", len(f.Bars)))
	}
	var b strings.Builder
	for i, h := range f.Bars {
		idx := int(h * float64(len(levels)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		cell := string(levels[idx])
		if i < len(f.Highlight) && f.Highlight[i] {
			b.WriteString(barHighlightStyle.Render(cell))
		} else {
			b.WriteString(barStyle.Render(cell))
		}
	}
	return b.String()
}

// renderLog draws the last rows entries of the conversation log.
func renderLog(log []models.TranscriptSegment, width, rows int) string {
	if len(log) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	if len(log) > rows {
		log = log[len(log)-rows:]
	}

	textWidth := width - 10
	if textWidth < 20 {
		textWidth = 20
	}

	lines := make([]string, 0, len(log))
	for _, seg := range log {
		tag := agentRoleStyle.Render(" agent ")
		if seg.Speaker == models.SpeakerUser {
			tag = userRoleStyle.Render("  you  ")
		}
		text := truncate(seg.Text, textWidth)
		if !seg.IsFinal {
			text = pendingStyle.Render(text)
		}
		lines = append(lines, tag+" "+text)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// Run shows w in the terminal until the user quits.
func Run(ctx context.Context, w *widget.Widget) error {
	p := tea.NewProgram(NewModel(ctx, w), tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := w.Subscribe(func(v widget.View) {
		p.Send(viewMsg(v))
	})
	defer unsubscribe()

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
