package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/storacha-rag/ragbot/pkg/agent"
	"github.com/storacha-rag/ragbot/pkg/conversation"
	"github.com/storacha-rag/ragbot/pkg/media"
	"github.com/storacha-rag/ragbot/pkg/session"
	"github.com/storacha-rag/ragbot/pkg/utils"
)

// --- message types ---

// eventMsg carries an orchestrator event to the UI. final marks the event
// that ends the running operation.
type eventMsg struct {
	ev    agent.Event
	final bool
}

// --- chat config ---

// ChatConfig holds display metadata for the chat TUI.
type ChatConfig struct {
	SessionKey string
	Backend    string
	Model      string
}

// --- chat entry ---

type chatEntry struct {
	role    string // "user", "assistant", "notice", "error"
	content string
}

// --- interactive chat model ---

type chatModel struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history    []chatEntry
	waiting    bool
	status     string
	live       string
	cancelFunc context.CancelFunc
	events     chan eventMsg

	orch *agent.Orchestrator
	ctx  context.Context
	key  string

	ready   bool
	width   int
	height  int
	backend string
	model   string
}

func newChatModel(ctx context.Context, orch *agent.Orchestrator, cfg ChatConfig) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask a question, or /help"
	ti.Focus()
	ti.CharLimit = 0
	ti.Prompt = "❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	key := cfg.SessionKey
	if key == "" {
		key = "chat:default"
	}

	return chatModel{
		input:   ti,
		spinner: sp,
		events:  make(chan eventMsg, 64),
		orch:    orch,
		ctx:     ctx,
		key:     key,
		backend: cfg.Backend,
		model:   cfg.Model,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen delivers the next event of the running operation.
func (m chatModel) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// header(1) + divider(1) + viewport + divider(1) + input(1) + status(1)
		vpHeight := msg.Height - 5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting {
				return m, nil
			}
			input := strings.TrimSpace(m.input.Value())
			if input == "" {
				return m, nil
			}
			if isExitCmd(input) {
				return m, tea.Quit
			}
			m.input.SetValue("")
			cmd := m.submit(input)
			m.refresh()
			return m, cmd
		case tea.KeyEsc:
			if m.waiting && m.cancelFunc != nil {
				m.cancelFunc()
				m.cancelFunc = nil
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case eventMsg:
		cmd := m.handleEvent(msg)
		m.refresh()
		return m, tea.Batch(cmd, m.listen())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// submit handles one line of input. Immediate operations are applied here;
// network operations run in a command and report through m.events.
func (m *chatModel) submit(input string) tea.Cmd {
	o, key := m.orch, m.key
	fields := strings.Fields(input)
	if !strings.HasPrefix(input, "/") {
		m.history = append(m.history, chatEntry{role: "user", content: input})
		return m.run(func(ctx context.Context, obs agent.Observer) agent.Event {
			return o.HandleTextInput(ctx, key, input, obs)
		})
	}

	cmd, arg := strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
	switch cmd {
	case "/help":
		m.notice(helpText)
	case "/upload":
		m.show(o.StartUpload(key))
	case "/ask":
		m.show(o.AskQuestion(key))
	case "/cancel":
		m.show(o.Cancel(key))
	case "/safe":
		switch strings.ToLower(arg) {
		case "on", "off":
			o.SetSafeMode(key, strings.EqualFold(arg, "on"))
			m.notice("Safe mode " + strings.ToLower(arg) + ".")
		default:
			m.notice("Usage: /safe on|off")
		}
	case "/text", "/url":
		kind := conversation.KindText
		if cmd == "/url" {
			kind = conversation.KindURL
		}
		o.StartUpload(key)
		ev := o.HandleUploadTypeSelected(key, kind)
		if arg == "" || ev.Kind == agent.EventError {
			m.show(ev)
			return nil
		}
		m.history = append(m.history, chatEntry{role: "user", content: arg})
		return m.run(func(ctx context.Context, obs agent.Observer) agent.Event {
			return o.HandleTextInput(ctx, key, arg, obs)
		})
	case "/pdf":
		if arg == "" {
			m.notice("Usage: /pdf <path>")
			return nil
		}
		o.StartUpload(key)
		if ev := o.HandleUploadTypeSelected(key, conversation.KindPDF); ev.Kind == agent.EventError {
			m.show(ev)
			return nil
		}
		m.history = append(m.history, chatEntry{role: "user", content: "📄 " + arg})
		return m.run(func(ctx context.Context, obs agent.Observer) agent.Event {
			data, name, err := utils.FetchMedia(ctx, nil, arg, 0)
			if err != nil {
				o.Cancel(key)
				return agent.Event{Kind: agent.EventError, Err: err}
			}
			if !media.IsPDF(name, data) {
				o.Cancel(key)
				return agent.Event{Kind: agent.EventError, Err: &agent.UnsupportedContentError{FileName: name, MimeType: media.DetectMIME(data)}}
			}
			return o.HandleUploadPayload(ctx, key, conversation.PDFPayload(name, data), obs)
		})
	case "/image":
		if arg == "" {
			m.notice("Usage: /image <path>")
			return nil
		}
		m.history = append(m.history, chatEntry{role: "user", content: "🖼️ " + arg})
		return m.run(func(ctx context.Context, obs agent.Observer) agent.Event {
			data, name, err := utils.FetchMedia(ctx, nil, arg, 0)
			if err != nil {
				return agent.Event{Kind: agent.EventError, Err: err}
			}
			return o.HandleImageInput(ctx, key, name, data, obs)
		})
	default:
		m.history = append(m.history, chatEntry{role: "user", content: input})
		return m.run(func(ctx context.Context, obs agent.Observer) agent.Event {
			return o.HandleTextInput(ctx, key, input, obs)
		})
	}
	return nil
}

// run starts op with a cancellable context. Its events, including the
// final one, are delivered in order through m.events.
func (m *chatModel) run(op func(ctx context.Context, obs agent.Observer) agent.Event) tea.Cmd {
	opCtx, cancel := context.WithCancel(m.ctx)
	m.cancelFunc = cancel
	m.waiting = true
	m.input.Blur()

	events := m.events
	parent := m.ctx
	send := func(msg eventMsg) {
		select {
		case events <- msg:
		case <-parent.Done():
		}
	}
	return func() tea.Msg {
		defer cancel()
		final := op(opCtx, func(ev agent.Event) { send(eventMsg{ev: ev}) })
		send(eventMsg{ev: final, final: true})
		return nil
	}
}

func (m *chatModel) handleEvent(msg eventMsg) tea.Cmd {
	ev := msg.ev
	switch ev.Kind {
	case agent.EventPending:
		m.status = agent.RenderForBot(ev).Text
	case agent.EventStreamingProgress:
		m.live = ev.Partial
	default:
		m.show(ev)
	}

	if !msg.final {
		return nil
	}
	m.waiting = false
	m.status = ""
	m.live = ""
	m.cancelFunc = nil
	return m.input.Focus()
}

// show appends the visible part of an event to the history.
func (m *chatModel) show(ev agent.Event) {
	switch ev.Kind {
	case agent.EventTranscriptAppended:
		if ev.Message != nil && ev.Message.Role == session.RoleAssistant && ev.Message.Content != "" {
			m.history = append(m.history, chatEntry{role: "assistant", content: ev.Message.Content})
			m.live = ""
		}
	case agent.EventError:
		if isInterrupted(ev.Err) {
			m.history = append(m.history, chatEntry{role: "assistant", content: "[Interrupted]"})
			return
		}
		m.history = append(m.history, chatEntry{role: "error", content: agent.ErrorText(ev.Err)})
	case agent.EventPromptForInput:
		m.notice(promptText(ev))
	case agent.EventNotice:
		m.notice(agent.RenderForBot(ev).Text)
	}
}

func (m *chatModel) notice(text string) {
	if text != "" {
		m.history = append(m.history, chatEntry{role: "notice", content: text})
	}
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func isInterrupted(err error) bool {
	var serr *agent.StreamError
	if errors.As(err, &serr) && serr.Cancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// promptText renders a prompt with the chat's commands instead of buttons.
func promptText(ev agent.Event) string {
	if ev.Expect.Stage == conversation.StageAwaitingUploadType {
		opts := make([]string, 0, len(ev.Options))
		for _, k := range ev.Options {
			if k == conversation.KindPDF {
				opts = append(opts, "/pdf <path>")
			} else {
				opts = append(opts, "/"+k.String())
			}
		}
		return agent.SelectTypeText + " " + strings.Join(opts, ", ")
	}
	if ev.Expect.Stage == conversation.StageAwaitingUploadPayload && ev.Expect.Kind == conversation.KindPDF {
		return "📎 Send the PDF with /pdf <path>."
	}
	return agent.RenderForBot(ev).Text
}

const helpText = `Commands:
  <text>          ask the knowledge base
  /text [content] upload text
  /url [link]     upload a web page
  /pdf <path>     upload a PDF file
  /image <path>   analyze an image (JPG or PNG)
  /safe on|off    toggle the vision safety prompt
  /cancel         abandon the current step
  /exit           quit (Esc interrupts a running request)`

func (m chatModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := TitleStyle.Render(fmt.Sprintf(" %s Storacha RAG", Logo))
	divider := DimStyle.Render(strings.Repeat("─", m.width))

	var inputLine string
	if m.waiting {
		status := m.status
		if status == "" {
			status = "Working..."
		}
		inputLine = fmt.Sprintf(" %s %s (Esc to stop)", m.spinner.View(), status)
	} else {
		inputLine = " " + m.input.View()
	}

	return header + "\n" +
		divider + "\n" +
		m.viewport.View() + "\n" +
		divider + "\n" +
		inputLine + "\n" +
		m.renderStatusBar()
}

func (m chatModel) renderHistory() string {
	if len(m.history) == 0 && m.live == "" {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, entry := range m.history {
		sb.WriteString("\n")
		switch entry.role {
		case "user":
			writeBlock(&sb, UserLabel.Render("You"), entry.content)
		case "assistant":
			writeBlock(&sb, BotLabel.Render("Assistant"), entry.content)
		case "notice":
			sb.WriteString("  " + NoticeStyle.Render(entry.content) + "\n")
		case "error":
			sb.WriteString("  " + ErrStyle.Render(entry.content) + "\n")
		}
	}
	if m.live != "" {
		sb.WriteString("\n")
		writeBlock(&sb, BotLabel.Render("Assistant"), m.live)
	}
	return sb.String()
}

func writeBlock(sb *strings.Builder, label, content string) {
	sb.WriteString("  " + label + "\n")
	for _, line := range strings.Split(content, "\n") {
		sb.WriteString("  " + line + "\n")
	}
}

func (m chatModel) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString("  " + TitleStyle.Render("Storacha RAG Chat") + "\n\n")
	sb.WriteString("  " + BoldStyle.Render("Tips for getting started:") + "\n")
	sb.WriteString(DimStyle.Render("  1. Upload knowledge with /text, /url or /pdf <path>") + "\n")
	sb.WriteString(DimStyle.Render("  2. Type a question to search it") + "\n")
	sb.WriteString(DimStyle.Render("  3. /image <path> to analyze a picture") + "\n")
	sb.WriteString(DimStyle.Render("  4. /help for all commands") + "\n")
	return sb.String()
}

func (m chatModel) renderStatusBar() string {
	left := DimStyle.Render(" " + m.backend)
	safe := m.orch.Sessions.GetOrCreate(m.key).SafeMode()
	right := DimStyle.Render(fmt.Sprintf("%s · safe %s ", m.model, OnOff(safe)))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func isExitCmd(s string) bool {
	s = strings.ToLower(s)
	return s == "exit" || s == "quit" || s == "/exit" || s == "/quit" || s == ":q"
}

// RunChat starts the interactive chat TUI.
func RunChat(ctx context.Context, orch *agent.Orchestrator, cfg ChatConfig) error {
	m := newChatModel(ctx, orch, cfg)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
