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

// Fetcher reloads an inspect payload. Optional; without it the r key is
// ignored.
type Fetcher func() (any, error)

// refreshedMsg carries the result of a Fetcher call.
type refreshedMsg struct {
	data any
	err  error
}

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	fetch    Fetcher
	err      error
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// WithFetcher returns a copy of m that reloads its data on r.
func (m InspectModel) WithFetcher(f Fetcher) InspectModel {
	m.fetch = f
	return m
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.data = msg.data
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh) && m.fetch != nil:
			fetch := m.fetch
			return m, func() tea.Msg {
				data, err := fetch()
				return refreshedMsg{data: data, err: err}
			}
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_resource":
		content = m.renderResource()
	case "inspect_registry":
		content = m.renderRegistry()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	if m.err != nil {
		content += "\n" + ErrorStyle.Render("refresh failed: "+m.err.Error())
	}

	help := "Press q or Ctrl+C to quit"
	if m.fetch != nil {
		help = "Press r to refresh, q or Ctrl+C to quit"
	}
	return content + "\n" + HelpStyle.Render(help)
}

func (m InspectModel) renderResource() string {
	data, ok := m.data.(*reader.ResourceView)
	if !ok {
		return "Invalid data type for inspect_resource"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(data.Resource))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Status:"),
		StatusStyle(data.Status).Render(fmt.Sprintf("%d", data.Status))))
	if data.LastModified != nil {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Last Modified:"),
			ValueStyle.Render(data.LastModified.Format("2006-01-02 15:04:05"))))
	}

	names := make([]string, 0, len(data.Fields))
	for k := range data.Fields {
		names = append(names, k)
	}
	sort.Strings(names)

	if len(names) > 0 {
		b.WriteString("\n")
	}
	for _, k := range names {
		value := fmt.Sprintf("%v", data.Fields[k])
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render(k+":"),
			StateStyle(value).Render(value)))
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderRegistry() string {
	data, ok := m.data.([]reader.ResourceRow)
	if !ok {
		return "Invalid data type for inspect_registry"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Resources"))
	b.WriteString("\n\n")

	verb := func(allowed bool, name string) string {
		if allowed {
			return SuccessStyle.Render(name)
		}
		return HelpStyle.UnsetMarginTop().Render(strings.Repeat("-", len(name)))
	}

	for _, row := range data {
		b.WriteString(fmt.Sprintf("%s %s %s %s  %s\n",
			lipgloss.NewStyle().Width(30).Render(row.Resource),
			verb(row.Get, "GET"),
			verb(row.Patch, "PATCH"),
			verb(row.Put, "PUT"),
			ValueStyle.Render(row.Preconditions)))
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	return runInspect(NewInspectModel(viewType, data))
}

// RunInspectTUIWithFetcher runs the inspect TUI with live refresh.
func RunInspectTUIWithFetcher(viewType string, data any, f Fetcher) error {
	return runInspect(NewInspectModel(viewType, data).WithFetcher(f))
}

func runInspect(model InspectModel) error {
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
