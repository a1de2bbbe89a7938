// Package tui is the terminal chat front end.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/loader"
	"docrag/internal/service"
	"docrag/internal/session"
)

// Port is the TUI-facing subset of the responder.
type Port interface {
	Ingest(ctx context.Context, sess *session.Session, src loader.Source) (service.IngestResult, error)
	Ask(ctx context.Context, sess *session.Session, question string, opts service.AskOptions) (*service.Answer, error)
	Reset(ctx context.Context, sess *session.Session) error
}

type speaker int

const (
	speakerUser speaker = iota
	speakerAssistant
	speakerSystem
)

type entry struct {
	who       speaker
	text      string
	augmented bool
	sources   []string
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	svc      Port
	sess     *session.Session
	input    textinput.Model
	viewport viewport.Model
	log      []entry
	preload  []string
	useRAG   bool
	answer   *service.Answer
	busy     bool
	status   string
	ready    bool
}

// New creates a chat model over sess. preload is ingested, in order, when
// the program starts.
func New(ctx context.Context, svc Port, sess *session.Session, preload []string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /load <path|url>"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		svc:      svc,
		sess:     sess,
		input:    ti,
		viewport: vp,
		preload:  preload,
		useRAG:   true,
		status:   "Type /help for commands.",
	}
}

type loadedMsg struct {
	origin string
	res    service.IngestResult
	err    error
}

type answerStartedMsg struct {
	answer *service.Answer
	err    error
}

type fragmentMsg struct {
	text string
	done bool
	err  error
}

type resetMsg struct{ err error }

// Init starts the cursor blink and the preloads.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if len(m.preload) > 0 {
		loads := make([]tea.Cmd, len(m.preload))
		for i, origin := range m.preload {
			loads[i] = m.loadCmd(origin)
		}
		cmds = append(cmds, tea.Sequence(loads...))
	}
	return tea.Batch(cmds...)
}

func (m Model) loadCmd(origin string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.svc.Ingest(m.ctx, m.sess, loader.Source{Origin: origin})
		return loadedMsg{origin: origin, res: res, err: err}
	}
}

func (m Model) askCmd(question string) tea.Cmd {
	opts := service.AskOptions{UseRAG: m.useRAG}
	return func() tea.Msg {
		a, err := m.svc.Ask(m.ctx, m.sess, question, opts)
		return answerStartedMsg{answer: a, err: err}
	}
}

func nextFragment(a *service.Answer) tea.Cmd {
	return func() tea.Msg {
		text, done, err := a.Next()
		return fragmentMsg{text: text, done: done, err: err}
	}
}

func (m Model) resetCmd() tea.Cmd {
	return func() tea.Msg { return resetMsg{err: m.svc.Reset(m.ctx, m.sess)} }
}

// Update handles key, window and background events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.closeAnswer()
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if m.busy {
				m.status = "Still working on the last request."
				return m, nil
			}
			m.input.Reset()
			return m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	case loadedMsg:
		m.busy = false
		if msg.err != nil {
			m.note(fmt.Sprintf("%s: %s (%v)", msg.origin, service.OutcomeOf(msg.err), msg.err))
		} else {
			text := fmt.Sprintf("Loaded %s: %d chunks.", msg.origin, msg.res.Chunks)
			if msg.res.Summary != "" {
				text += "\n" + msg.res.Summary
			}
			m.note(text)
		}
		m.status = m.statusLine()
		return m, nil
	case answerStartedMsg:
		if msg.answer == nil || msg.err != nil {
			m.busy = false
			m.note("Error: " + errText(msg.err))
			m.status = m.statusLine()
			return m, nil
		}
		m.answer = msg.answer
		m.log = append(m.log, entry{who: speakerAssistant, augmented: msg.answer.Augmented, sources: msg.answer.Sources()})
		if msg.answer.Reason == service.ReasonStoreUnavailable {
			m.status = "Retrieval unavailable; answering without your documents."
		}
		m.refresh()
		return m, nextFragment(msg.answer)
	case fragmentMsg:
		if m.answer == nil {
			return m, nil
		}
		if msg.err != nil {
			m.answer, m.busy = nil, false
			m.note("Error: " + msg.err.Error())
			m.status = m.statusLine()
			return m, nil
		}
		if msg.done {
			m.answer, m.busy = nil, false
			m.status = m.statusLine()
			m.refresh()
			return m, nil
		}
		m.log[len(m.log)-1].text += msg.text
		m.refresh()
		return m, nextFragment(m.answer)
	case resetMsg:
		m.busy = false
		if msg.err != nil {
			m.note("Reset failed: " + msg.err.Error())
		} else {
			m.log = nil
			m.note("Session reset.")
		}
		m.status = m.statusLine()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs a slash command or asks a question.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		m.log = append(m.log, entry{who: speakerUser, text: line})
		m.busy = true
		m.status = "Thinking..."
		m.refresh()
		return m, m.askCmd(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.note("Commands: /load <path|url>, /sources, /rag [on|off], /reset, /clear, /quit")
	case "/load":
		if arg == "" {
			m.status = "Usage: /load <path|url>"
			return m, nil
		}
		m.busy = true
		m.status = "Loading " + arg + "..."
		return m, m.loadCmd(arg)
	case "/sources":
		sources := m.sess.Sources()
		if len(sources) == 0 {
			m.note("No sources loaded.")
		} else {
			m.note(fmt.Sprintf("Sources (%d/%d):\n  %s", len(sources), m.sess.Limit(), strings.Join(sources, "\n  ")))
		}
	case "/rag":
		switch arg {
		case "":
			m.useRAG = !m.useRAG
		case "on":
			m.useRAG = true
		case "off":
			m.useRAG = false
		default:
			m.status = "Usage: /rag [on|off]"
			return m, nil
		}
	case "/reset":
		m.busy = true
		m.status = "Resetting..."
		return m, m.resetCmd()
	case "/clear":
		m.sess.ClearHistory()
		m.log = nil
		m.refresh()
	default:
		m.status = fmt.Sprintf("Unknown command %s; try /help", cmd)
		return m, nil
	}
	m.status = m.statusLine()
	return m, nil
}

func (m *Model) note(text string) {
	m.log = append(m.log, entry{who: speakerSystem, text: text})
	m.refresh()
}

func (m *Model) closeAnswer() {
	if m.answer != nil {
		_ = m.answer.Close()
		m.answer = nil
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) statusLine() string {
	rag := "off"
	if m.useRAG {
		rag = "on"
	}
	return fmt.Sprintf("session %s  sources %d/%d  rag %s", shortID(m.sess.ID()), len(m.sess.Sources()), m.sess.Limit(), rag)
}

// View renders the header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("docrag")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.log) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	var b strings.Builder
	for i, e := range m.log {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.who {
		case speakerUser:
			b.WriteString(userStyle.Render("you: ") + e.text)
		case speakerAssistant:
			label := assistantStyle.Render("assistant")
			if e.augmented {
				label += " " + badgeStyle.Render("[RAG]")
			}
			b.WriteString(label + ": " + e.text)
			if len(e.sources) > 0 {
				b.WriteString("\n" + dimStyle.Render("sources: "+strings.Join(e.sources, ", ")))
			}
		default:
			b.WriteString(dimStyle.Render(e.text))
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func errText(err error) string {
	if err == nil {
		return "no answer"
	}
	return err.Error()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle        = lipgloss.NewStyle().Bold(true)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	badgeStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
