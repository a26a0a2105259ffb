package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/lalith-99/echoclient/internal/app"
	"github.com/lalith-99/echoclient/internal/engine"
	"github.com/lalith-99/echoclient/internal/models"
)

const chatHelp = `/file <path> upload · /open <id> attachment link · /reload reconnect · /quit leave · pgup/pgdn scroll`

var errSessionEnded = errors.New("session ended, please log in again")

type inputKind int

const (
	inputText inputKind = iota
	inputFile
	inputOpen
	inputReload
	inputQuit
	inputHelp
	inputInvalid
)

type input struct {
	kind      inputKind
	text      string
	messageID int64
}

// parseInput reads one line typed into the compose box.
func parseInput(line string) input {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return input{kind: inputText, text: line}
	}

	cmd, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/file":
		if arg == "" {
			return input{kind: inputInvalid, text: "usage: /file <path>"}
		}
		return input{kind: inputFile, text: arg}
	case "/open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return input{kind: inputInvalid, text: "usage: /open <message id>"}
		}
		return input{kind: inputOpen, messageID: id}
	case "/reload":
		return input{kind: inputReload}
	case "/quit", "/exit":
		return input{kind: inputQuit}
	case "/help":
		return input{kind: inputHelp}
	default:
		return input{kind: inputInvalid, text: "unknown command " + cmd + ", try /help"}
	}
}

// Message lines use gookit/color; the frame around them uses lipgloss.
var (
	styleTime   = color.New(color.FgGray)
	styleAuthor = color.New(color.FgCyan, color.OpBold)
	styleSelf   = color.New(color.FgGreen, color.OpBold)
	styleFile   = color.New(color.FgYellow)
	styleWarn   = color.New(color.FgRed)

	statusColor = lipgloss.Color("241")
	noticeColor = lipgloss.Color("248")
	inputBg     = lipgloss.Color("236")
)

// formatMessage renders one line. The author is always shown; the user's
// own messages only get a leading marker.
func formatMessage(m models.Message, self uuid.UUID) string {
	marker, author := "  ", styleAuthor.Render(m.AuthorDisplay)
	if self != uuid.Nil && m.AuthorID == self {
		marker, author = "» ", styleSelf.Render(m.AuthorDisplay)
	}

	ts := styleTime.Render(m.CreatedAt.Local().Format("15:04"))
	var body string
	switch m.Kind {
	case models.KindFile:
		name, mime := "attachment", "unknown type"
		if m.File != nil {
			name, mime = m.File.OriginalName, m.File.MimeType
			if name == "" {
				name = m.File.StorageKey
			}
		}
		body = styleFile.Render(fmt.Sprintf("[file] %s (%s) /open %d", name, mime, m.ID))
		if m.Content != "" {
			body = m.Content + " " + body
		}
	default:
		body = m.Content
	}
	return fmt.Sprintf("%s%s %s: %s", marker, ts, author, body)
}

// renderMessages draws the whole list in snapshot order. It is redrawn on
// every change, so a late history page lands above earlier echoes.
func renderMessages(s engine.Snapshot, self uuid.UUID) string {
	lines := make([]string, 0, len(s.Messages)+1)
	switch s.History {
	case engine.HistoryLoading:
		lines = append(lines, "loading history...")
	case engine.HistoryFailed:
		lines = append(lines, styleWarn.Render(loadFailureText(s.Conditions)))
	}
	for _, m := range s.Messages {
		lines = append(lines, formatMessage(m, self))
	}
	return strings.Join(lines, "\n")
}

func loadFailureText(c engine.Conditions) string {
	switch c.LoadFailure {
	case engine.FailureNoAccess:
		return "you do not have access to this channel (join it first)"
	case engine.FailureUnauthorized:
		return "your session has expired, please log in again"
	default:
		if c.LoadDetail != "" {
			return "could not load history: " + c.LoadDetail
		}
		return "could not load history"
	}
}

// statusText lists the connection state and every active condition.
func statusText(s engine.Snapshot) string {
	parts := []string{string(s.Connection)}
	if s.Connection == engine.ConnOpen {
		parts[0] = "live"
	}
	if s.PendingUploads > 0 {
		parts = append(parts, "uploading")
	}
	if s.Conditions.LiveUpdatesLost {
		parts = append(parts, "live updates lost, /reload to reconnect")
	}
	if s.Conditions.SendFailed != "" {
		parts = append(parts, "send failed: "+s.Conditions.SendFailed)
	}
	if s.Conditions.UploadTooLarge {
		parts = append(parts, "file is too large")
	}
	return strings.Join(parts, " · ")
}

// chatEngine is the slice of *engine.Engine the chat screen drives.
type chatEngine interface {
	Snapshot() engine.Snapshot
	Activate(ctx context.Context, channelID uuid.UUID) uint64
	SendText(ctx context.Context, channelID uuid.UUID, content string) error
	SendFile(ctx context.Context, channelID uuid.UUID, file *models.FileUpload) error
	ResolveFileAccess(ctx context.Context, messageID int64) (string, error)
}

// engineChangedMsg is one wake-up from the engine's broadcaster.
type engineChangedMsg struct{ closed bool }

// sentMsg reports a finished send. draft is put back into an empty compose
// box when the send failed.
type sentMsg struct {
	draft  string
	err    error
	notice string
}

type noticeMsg struct{ text string }

type chatModel struct {
	ctx           context.Context
	eng           chatEngine
	changes       <-chan struct{}
	authenticated func() bool
	channelID     uuid.UUID
	self          uuid.UUID

	viewport viewport.Model
	input    textarea.Model
	snap     engine.Snapshot
	notice   string
	width    int
	height   int

	// err is what cmdChat returns once the program exits.
	err error
}

func newChatModel(ctx context.Context, eng chatEngine, changes <-chan struct{}, authenticated func() bool, channelID, self uuid.UUID) *chatModel {
	in := textarea.New()
	in.Placeholder = "message, or /help"
	in.CharLimit = 0
	in.ShowLineNumbers = false
	in.Prompt = "› "
	in.SetHeight(1)
	in.KeyMap.InsertNewline.SetEnabled(false)
	in.Focus()

	m := &chatModel{
		ctx:           ctx,
		eng:           eng,
		changes:       changes,
		authenticated: authenticated,
		channelID:     channelID,
		self:          self,
		viewport:      viewport.New(0, 0),
		input:         in,
	}
	m.snap = eng.Snapshot()
	m.refreshViewport()
	return m
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForChange())
}

func (m *chatModel) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		_, ok := <-changes
		return engineChangedMsg{closed: !ok}
	}
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.input.Value() != "" {
				m.input.Reset()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			value := m.input.Value()
			if strings.TrimSpace(value) == "" {
				return m, nil
			}
			m.input.Reset()
			m.notice = ""
			return m, m.handleInput(value)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case engineChangedMsg:
		if msg.closed {
			return m, tea.Quit
		}
		snap := m.eng.Snapshot()
		if !snap.Active {
			// Deactivated under us: logout, invalidation or shutdown.
			if !m.authenticated() {
				m.err = errSessionEnded
			}
			return m, tea.Quit
		}
		m.snap = snap
		m.refreshViewport()
		return m, m.waitForChange()

	case sentMsg:
		if msg.err != nil {
			if m.input.Value() == "" {
				m.input.SetValue(msg.draft)
			}
			switch {
			case msg.notice != "":
				m.notice = msg.notice
			case !isReported(msg.err):
				m.notice = localRejection(msg.err)
			}
		}
		return m, nil

	case noticeMsg:
		m.notice = msg.text
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleInput turns a submitted line into work. Network calls run as
// commands so the screen keeps updating while an upload is in flight.
func (m *chatModel) handleInput(value string) tea.Cmd {
	ctx, eng, channelID := m.ctx, m.eng, m.channelID

	in := parseInput(value)
	switch in.kind {
	case inputQuit:
		return tea.Quit
	case inputHelp:
		m.notice = chatHelp
	case inputInvalid:
		m.notice = in.text
	case inputReload:
		eng.Activate(ctx, channelID)
	case inputText:
		return func() tea.Msg {
			return sentMsg{draft: value, err: eng.SendText(ctx, channelID, in.text)}
		}
	case inputFile:
		return func() tea.Msg {
			upload, err := engine.ReadUpload(in.text)
			if err != nil {
				return sentMsg{draft: value, err: err, notice: err.Error()}
			}
			return sentMsg{draft: value, err: eng.SendFile(ctx, channelID, upload)}
		}
	case inputOpen:
		return func() tea.Msg {
			url, err := eng.ResolveFileAccess(ctx, in.messageID)
			if err != nil {
				return noticeMsg{text: "attachment: " + localRejection(err)}
			}
			return noticeMsg{text: url}
		}
	}
	return nil
}

func (m *chatModel) resize() {
	m.input.SetWidth(m.width)
	// notice line, compose box, status line
	m.viewport.Width = m.width
	m.viewport.Height = max(1, m.height-3)
	m.refreshViewport()
}

func (m *chatModel) refreshViewport() {
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(renderMessages(m.snap, m.self))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) View() string {
	notice := lipgloss.NewStyle().Foreground(noticeColor).Render(m.notice)
	box := lipgloss.NewStyle().Background(inputBg)
	status := lipgloss.NewStyle().Foreground(statusColor)
	if m.width > 0 {
		box = box.Width(m.width)
		status = status.Width(m.width)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		notice,
		box.Render(m.input.View()),
		status.Render(statusText(m.snap)),
	)
}

func cmdChat(ctx context.Context, a *app.App, channelID uuid.UUID) error {
	if err := requireSession(a); err != nil {
		return err
	}
	self := a.Session.Snapshot().Identity.ID
	eng := a.Engine

	changes, cancel := eng.Subscribe()
	defer cancel()

	eng.Activate(ctx, channelID)
	defer eng.Deactivate()

	model := newChatModel(ctx, eng, changes, func() bool {
		return a.Session.Snapshot().Authenticated()
	}, channelID, self)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat screen: %w", err)
	}
	if m, ok := final.(*chatModel); ok {
		return m.err
	}
	return nil
}

// isReported is true for failures the engine already put into the snapshot
// as a condition; the status line shows those.
func isReported(err error) bool {
	var local = []error{
		engine.ErrEmptyMessage, engine.ErrNotActive, engine.ErrNotConnected,
		engine.ErrUploadInFlight, engine.ErrNoFile,
	}
	for _, l := range local {
		if errors.Is(err, l) {
			return false
		}
	}
	return true
}

func localRejection(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotConnected):
		return "not connected, message not sent"
	case errors.Is(err, engine.ErrUploadInFlight):
		return "wait for the upload to finish"
	case errors.Is(err, engine.ErrAttachmentUnavailable):
		return "unavailable"
	default:
		return err.Error()
	}
}
