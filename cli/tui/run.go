package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/unlockbench/types"
)

const previewLen = 400

// RunData is the payload for the run and result views.
type RunData struct {
	RequestID string
	Result    *types.RunResult
}

// entry is one selectable line: an instance or an A/B variant.
type entry struct {
	label        string
	status       string
	success      bool
	statusCode   *int
	responseTime string
	contentType  string
	content      string
	err          string
}

func entries(r *types.RunResult) []entry {
	if r == nil {
		return nil
	}
	if r.IsAB() {
		return []entry{variantEntry("Variant A", r.ResultA), variantEntry("Variant B", r.ResultB)}
	}
	if len(r.InstanceResults) == 0 {
		return []entry{{
			label:        "Request 1",
			status:       string(types.InstanceCompleted),
			success:      r.Success,
			statusCode:   r.StatusCode,
			responseTime: r.ResponseTime,
			contentType:  r.ContentType,
			content:      r.Content,
			err:          r.Error,
		}}
	}
	out := make([]entry, 0, len(r.InstanceResults))
	for _, inst := range r.InstanceResults {
		label := inst.Name
		if label == "" {
			label = "Request " + strconv.Itoa(inst.InstanceNum)
		}
		out = append(out, entry{
			label:        label,
			status:       string(inst.Status),
			success:      inst.Success,
			statusCode:   inst.StatusCode,
			responseTime: inst.ResponseTime,
			contentType:  inst.ContentType,
			content:      inst.Content,
			err:          inst.Error,
		})
	}
	return out
}

func variantEntry(label string, v types.VariantResult) entry {
	return entry{
		label:        label,
		status:       string(types.InstanceCompleted),
		success:      v.Success,
		statusCode:   v.StatusCode,
		responseTime: v.ResponseTime,
		contentType:  v.ContentType,
		content:      v.Content,
		err:          v.Error,
	}
}

// RunModel is a Bubble Tea model for browsing the instances of a run.
type RunModel struct {
	data     RunData
	items    []entry
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewRunModel creates a new run model.
func NewRunModel(data RunData) RunModel {
	return RunModel{data: data, items: entries(data.Result)}
}

// Init implements tea.Model.
func (m RunModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m RunModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data.Result == nil {
		return "No result to display"
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderSummary(),
		m.renderList(),
		m.renderDetail(),
	)
	help := HelpStyle.Render("↑/k up • ↓/j down • q quit")
	return content + "\n" + help
}

func (m RunModel) renderSummary() string {
	r := m.data.Result
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Unlocker Test"))
	b.WriteString("\n")

	field(&b, "Request:", ValueStyle.Render(m.data.RequestID))
	field(&b, "URL:", ValueStyle.Render(r.URL))
	verdict := "failed"
	if r.Success {
		verdict = "succeeded"
	}
	field(&b, "Outcome:", OutcomeStyle("", r.Success).Render(verdict))
	field(&b, "Time:", ValueStyle.Render(r.ResponseTime+"s"))
	if r.SuccessRate != "" {
		field(&b, "Success rate:", ValueStyle.Render(r.SuccessRate))
	}
	if r.Stopped {
		field(&b, "Stopped:", WarningStyle.Render("yes"))
	}
	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m RunModel) renderList() string {
	var b strings.Builder
	for i, it := range m.items {
		cursor := "  "
		label := it.label
		if i == m.cursor {
			cursor = "> "
			label = SelectedStyle.Render(label)
		}
		mark := OutcomeStyle(it.status, it.success).Render(statusMark(it))
		fmt.Fprintf(&b, "%s%s %s  %s\n", cursor, mark, label, it.responseTime)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m RunModel) renderDetail() string {
	if len(m.items) == 0 {
		return ""
	}
	it := m.items[m.cursor]

	var b strings.Builder
	b.WriteString(TitleStyle.Render(it.label))
	b.WriteString("\n")
	code := "-"
	if it.statusCode != nil {
		code = strconv.Itoa(*it.statusCode)
	}
	field(&b, "Status:", OutcomeStyle(it.status, it.success).Render(code))
	if it.contentType != "" {
		field(&b, "Content type:", ValueStyle.Render(it.contentType))
	}
	field(&b, "Bytes:", ValueStyle.Render(strconv.Itoa(len(it.content))))
	if it.err != "" {
		field(&b, "Error:", ErrorStyle.Render(it.err))
	}
	if it.content != "" {
		b.WriteString("\n")
		b.WriteString(ValueStyle.Render(preview(it.content, previewLen)))
	}
	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func statusMark(it entry) string {
	switch {
	case it.status == "pending" || it.status == "running":
		return "…"
	case it.success:
		return "✓"
	default:
		return "✗"
	}
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label), value)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunRunTUI runs the run browser TUI.
func RunRunTUI(data RunData) error {
	p := tea.NewProgram(NewRunModel(data), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderRunStatic renders a run without the full TUI (for fallback).
func RenderRunStatic(data RunData) string {
	model := NewRunModel(data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
