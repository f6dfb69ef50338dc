package chatcmder

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/server"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1).Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
)

// inputHeight covers the spinner line, the prompt and the help line.
const inputHeight = 3

type replyMsg struct {
	resp *server.AssistResponse
	err  error
}

type resetMsg struct {
	err error
}

type model struct {
	ctx     context.Context
	session *session

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	// entries are rendered transcript blocks, oldest first.
	entries []string
	waiting bool
	width   int
	ready   bool
}

func newModel(ctx context.Context, s *session) model {
	input := textinput.New()
	input.Placeholder = "Ask for an email, invoice or reminder"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return model{
		ctx:     ctx,
		session: s,
		input:   input,
		spinner: spin,
		entries: []string{noticeStyle.Render("conversation " + s.conversationID + ", /reset to start over, esc to quit")},
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - inputHeight - 1 // header
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.entries = append(m.entries, errorStyle.Render("error: "+msg.err.Error()))
		} else {
			m.entries = append(m.entries, m.renderReply(msg.resp))
		}
		m.refresh()
		return m, nil

	case resetMsg:
		m.waiting = false
		if msg.err != nil {
			m.entries = append(m.entries, errorStyle.Render("error: "+msg.err.Error()))
		} else {
			m.entries = append(m.entries, noticeStyle.Render("conversation reset"))
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.waiting {
		return m, nil
	}
	m.input.Reset()

	switch text {
	case commandQuit:
		return m, tea.Quit
	case commandReset:
		m.waiting = true
		return m, tea.Batch(m.spinner.Tick, m.reset())
	}

	m.entries = append(m.entries, userStyle.Render("you")+" "+text)
	m.waiting = true
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.ask(text))
}

func (m model) ask(text string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.session.assist(m.ctx, text)
		return replyMsg{resp: resp, err: err}
	}
}

func (m model) reset() tea.Cmd {
	return func() tea.Msg {
		return resetMsg{err: m.session.reset(m.ctx)}
	}
}

// renderReply shows the short reply, followed by the detailed task result
// rendered as markdown once the task is finalized.
func (m model) renderReply(resp *server.AssistResponse) string {
	out := assistantStyle.Render("taskvox") + " " + resp.ReplyText
	if resp.AudioError != "" {
		out += "\n" + noticeStyle.Render("(no audio: "+resp.AudioError+")")
	}
	if resp.ReplyKind != conversation.KindFinal || resp.DetailedResponse == resp.ReplyText {
		return out
	}
	return out + "\n" + m.renderMarkdown(resp.DetailedResponse)
}

func (m model) renderMarkdown(text string) string {
	style := "light"
	if termenv.HasDarkBackground() {
		style = "dark"
	}
	width := m.width - 4
	if width < 20 {
		width = 80
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.width).Render(strings.Join(m.entries, "\n\n")))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}

	status := ""
	if m.waiting {
		status = m.spinner.View() + " thinking"
	}

	return strings.Join([]string{
		headerStyle.Render("taskvox"),
		m.viewport.View(),
		status,
		m.input.View(),
		noticeStyle.Render("enter to send, /reset to start over, esc to quit"),
	}, "\n")
}
