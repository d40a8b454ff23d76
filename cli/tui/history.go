package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/de1gate/cli/reader"
)

// historyRows bounds how many records the history view lists.
const historyRows = 15

// HistoryModel is a Bubble Tea model for the telemetry history view.
type HistoryModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewHistoryModel creates a new history model.
func NewHistoryModel(viewType string, data any) HistoryModel {
	return HistoryModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "history_telemetry":
		content = m.renderTelemetry()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m HistoryModel) renderTelemetry() string {
	data, ok := m.data.(*reader.HistoryView)
	if !ok {
		return "Invalid data type for history_telemetry"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Telemetry History: " + data.Dataset))
	b.WriteString("\n\n")

	kinds := make([]string, 0, len(data.ByKind))
	for k := range data.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	boxes := []string{m.renderStatBox("Total", int64(data.Total), highlightColor)}
	for _, k := range kinds {
		c := successColor
		if k == "invalid" {
			c = errorColor
		}
		boxes = append(boxes, m.renderStatBox(k, data.ByKind[k], c))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	for i, item := range data.Items {
		if i == historyRows {
			b.WriteString(HelpStyle.UnsetMarginTop().Render(fmt.Sprintf("... %d more", len(data.Items)-historyRows)))
			b.WriteString("\n")
			break
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			LabelStyle.Width(32).Render(item.Ts),
			lipgloss.NewStyle().Width(14).Render(item.Kind),
			ValueStyle.Render(item.Resource)))
	}

	return b.String()
}

func (m HistoryModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunHistoryTUI runs the history TUI.
func RunHistoryTUI(viewType string, data any) error {
	model := NewHistoryModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderHistoryStatic renders history data without full TUI (for fallback).
func RenderHistoryStatic(viewType string, data any) string {
	model := NewHistoryModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
