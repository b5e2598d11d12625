package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragengine/internal/domain"
)

// AskPort is the TUI-facing subset of the orchestrator.
type AskPort interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.QueryResult, error)
}

type answerMsg struct {
	result *domain.QueryResult
	err    error
}

// Model is the Bubble Tea model for the ask console.
type Model struct {
	service   AskPort
	input     textinput.Model
	viewport  viewport.Model
	result    *domain.QueryResult
	status    string
	cursor    int
	ready     bool
	waiting   bool
	lastQuery string
}

// New creates the ask console model.
func New(service AskPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, input: ti, viewport: vp, status: "Ready. Type a question."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 1
		totalFooterLines := 1
		reserved := totalHeaderLines + totalFooterLines + qh + 1
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.result = nil
		} else {
			m.result = msg.result
			m.cursor = 0
			m.status = fmt.Sprintf("Answered %q in %.0f ms (%d sources)",
				m.lastQuery, msg.result.Metrics.TotalTimeMs, msg.result.Metrics.NumResults)
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.waiting {
				m.waiting = true
				m.lastQuery = q
				m.status = "Thinking..."
				return m, askCmd(m.service, q)
			}
		case "down":
			if m.result != nil && len(m.result.Results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.result.Results)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if m.result != nil && len(m.result.Results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.result.Results)) % len(m.result.Results)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func askCmd(service AskPort, query string) tea.Cmd {
	return func() tea.Msg {
		result, err := service.Ask(context.Background(), domain.AskRequest{Query: query})
		return answerMsg{result: result, err: err}
	}
}

// View renders the console layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Engine")
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	answer := answerBoxStyle.Render(m.viewport.View())
	return header + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.result == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.result.Response)
	if len(m.result.Results) > 0 {
		r := m.result.Results[m.cursor]
		b.WriteString("\n\n")
		b.WriteString(sourceStyle.Render(fmt.Sprintf("Source %d/%d  document=%s  chunk=%d  similarity=%.3f",
			m.cursor+1, len(m.result.Results), r.DocumentID, r.ChunkNumber, r.Score)))
		b.WriteString("\n")
		b.WriteString(r.Text)
	}
	return b.String()
}

var (
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
