package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"askuni/internal/adapter/tui/components"
	"askuni/internal/adapter/tui/theme"
	"askuni/internal/adapter/tui/uxerror"
	"askuni/pkg/chatsdk"
)

// ChatModelDeps are dependencies injected into the chat model.
type ChatModelDeps struct {
	Client      *chatsdk.Client
	Coordinator *chatsdk.Coordinator
	OnGenBump   func(gen uint64) // notifies the bridge of a new request generation
	Logger      *slog.Logger
	ServerLabel string
	Attach      []string // files uploaded on start
}

// ChatModel is the root Bubble Tea model for the chat TUI.
type ChatModel struct {
	deps ChatModelDeps

	// Sub-models
	transcript components.TranscriptModel
	input      components.ComposerModel
	statusBar  components.StatusBarModel
	spinner    spinner.Model
	finder     components.FinderModel
	picker     components.PickerModel

	// State
	waiting  bool // true while a send is in flight
	replying bool // true once the assistant message of the current send exists
	width    int
	height   int
	quitting bool
	vimMode  bool // true when input is blurred and vim keys are active

	// Names of attachments queued for the next send.
	pendingFiles []string

	// Request lifecycle: gen is incremented on every new request.
	// Stale SnapshotMsg / SendDoneMsg with an older gen are discarded.
	gen      uint64
	cancelFn context.CancelFunc
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	if theme.ASCII {
		s.Spinner = spinner.Line
	}
	s.Style = theme.TextInfo

	account := "guest"
	if deps.Client != nil && deps.Client.Token() != "" {
		account = "signed in"
	}

	m := ChatModel{
		deps:       deps,
		transcript: components.NewTranscript(1000),
		input:      components.NewComposer("Ask about courses, rooms, staff...", slashCommands),
		statusBar: components.StatusBarModel{
			Hints:   defaultHints(),
			Server:  deps.ServerLabel,
			Account: account,
		},
		spinner: s,
		finder:  components.NewFinder(),
	}
	m.refreshSession()
	return m
}

// Init starts the spinner, resumes the conversation and uploads the
// attachments given on start.
func (m ChatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if id := m.deps.Coordinator.SessionID(); id != "" {
		cmds = append(cmds, loadHistoryCmd(m.deps.Client, id))
	}
	for _, path := range m.deps.Attach {
		cmds = append(cmds, attachCmd(m.deps.Client, path))
	}
	return tea.Batch(cmds...)
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.picker.SetSize(m.width, m.height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case SnapshotMsg:
		if msg.Gen != m.gen || !m.waiting {
			return m, nil
		}
		return m.handleSnapshot(msg.Snapshot)

	case SendDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.handleSendDone(msg)

	case components.PickMsg:
		return m.handleSlashCommand("/open", []string{msg.ID})

	case components.PickDeleteMsg:
		return m, deleteChatCmd(m.deps.Client, msg.ID)

	case components.FindMsg:
		m.finder.SetHits(m.transcript.Find(msg.Query))
		if i := m.finder.Current(); i >= 0 {
			m.transcript.ScrollTo(i)
		}
		return m, nil

	case ChatsLoadedMsg:
		return m.handleChatsLoaded(msg)

	case HistoryLoadedMsg:
		return m.handleHistoryLoaded(msg)

	case ChatDeletedMsg:
		if msg.Err != nil {
			m.addError(msg.Err)
			return m, nil
		}
		m.picker.Remove(msg.SessionID)
		if msg.SessionID == m.deps.Coordinator.SessionID() {
			m.deps.Coordinator.NewChat()
			m.syncPending()
			m.refreshSession()
		}
		m.addSystem(fmt.Sprintf("%s Conversation %s deleted.", theme.SymbolSuccess, shortID(msg.SessionID)))
		return m, nil

	case AttachedMsg:
		if msg.Err != nil {
			m.addError(msg.Err)
			return m, nil
		}
		if msg.Attachment.Filename == "" {
			msg.Attachment.Filename = filepath.Base(msg.Path)
		}
		name := msg.Attachment.Filename
		m.deps.Coordinator.Attach(msg.Attachment)
		m.syncPending()
		m.addSystem(fmt.Sprintf("%s Attached %s (%d characters). It will be sent with your next message.",
			theme.SymbolAttach, name, len([]rune(msg.Attachment.Text))))
		return m, nil

	case QuitMsg:
		m.cancelInFlight()
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	if m.picker.Visible {
		return m.picker.View()
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = theme.Dim.Render("? waiting for the answer (Esc to cancel)") +
			"\n" + m.spinner.View() + " " + m.statusBar.Activity + "\n"
	}

	parts := []string{m.transcript.View()}
	if fv := m.finder.View(); fv != "" {
		parts = append(parts, fv)
	}
	parts = append(parts, components.Divider(m.width), inputView, m.statusBar.View())

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// layout recalculates sizes for all sub-models.
func (m *ChatModel) layout() {
	const statusH, dividerH = 1, 1
	finderH := 0
	if m.finder.State != components.FinderClosed {
		finderH = 1
	}
	contentH := max(m.height-m.input.Height()-statusH-dividerH-finderH, 5)

	m.statusBar.SetWidth(m.width)
	m.transcript.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

// isMouseEscapeLeak detects mouse escape sequences that leaked through
// as key input instead of tea.MouseMsg. Covers SGR, X11 basic, and
// URXVT formats that appear during rapid trackpad scrolling.
func isMouseEscapeLeak(s string) bool {
	if len(s) >= 5 && s[0] == '<' && (s[len(s)-1] == 'M' || s[len(s)-1] == 'm') {
		return digitsAndSemicolons(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm') {
		return true
	}
	if len(s) >= 5 && s[0] == '[' && s[len(s)-1] == 'M' {
		return digitsAndSemicolons(s[1 : len(s)-1])
	}
	return false
}

func digitsAndSemicolons(s string) bool {
	for _, r := range s {
		if r != ';' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// handleKey processes keyboard input.
func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	if m.picker.Visible {
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}

	if m.finder.State == components.FinderTyping {
		var cmd tea.Cmd
		m.finder, cmd = m.finder.Update(msg)
		m.layout()
		return m, cmd
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest("Answer cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/new", nil)

	case tea.KeyEsc:
		if m.waiting {
			m.cancelRequest("Answer cancelled.")
			return m, nil
		}
		if m.finder.State != components.FinderClosed {
			m.finder.Close()
			m.layout()
			return m, nil
		}
		if m.input.Suggesting() {
			break
		}
		if !m.vimMode {
			m.vimMode = true
			m.input.SetEnabled(false)
			m.statusBar.Hints = vimHints()
			return m, nil
		}

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	// Scroll mode: j/k scroll, / find, n/N step through hits, i to type.
	if m.vimMode {
		switch msg.String() {
		case "j", "down":
			m.transcript.ScrollBy(3)
		case "k", "up":
			m.transcript.ScrollBy(-3)
		case "/":
			m.finder.Open(m.width)
			m.layout()
		case "n", "N":
			step := 1
			if msg.String() == "N" {
				step = -1
			}
			if i := m.finder.Step(step); i >= 0 {
				m.transcript.ScrollTo(i)
			}
		case "i":
			if !m.waiting {
				m.vimMode = false
				m.input.SetEnabled(true)
				m.statusBar.Hints = defaultHints()
			}
		case "g":
			m.transcript.Top()
		case "G":
			m.transcript.Bottom()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.layout()
	return m, cmd
}

var slashCommands = []components.CommandDef{
	{Name: "/help", Usage: "commands and keys"},
	{Name: "/new", Usage: "start a new conversation"},
	{Name: "/chats", Usage: "browse saved conversations"},
	{Name: "/open", Args: "<id>", Usage: "resume a conversation"},
	{Name: "/delete", Args: "<id>", Usage: "delete a conversation"},
	{Name: "/attach", Args: "<file>", Usage: "attach a PDF or text file"},
	{Name: "/cancel", Usage: "stop the current answer"},
	{Name: "/quit", Usage: "leave AskUni"},
}

func vimHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "j/k", Desc: "Scroll"},
		{Key: "/", Desc: "Find"},
		{Key: "n/N", Desc: "Next/prev"},
		{Key: "g/G", Desc: "Top/bottom"},
		{Key: "i", Desc: "Input"},
	}
}

// handleSubmit processes user input submission.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	if strings.TrimSpace(value) == "" {
		return m, nil
	}

	m.cancelInFlight()

	m.transcript.Append(components.ChatMessage{
		Role:        components.RoleUser,
		Content:     value,
		Timestamp:   time.Now(),
		Attachments: m.pendingFiles,
	})

	m.gen++
	if m.deps.OnGenBump != nil {
		m.deps.OnGenBump(m.gen)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	m.waiting = true
	m.replying = false
	m.vimMode = true
	m.input.SetEnabled(false)
	m.statusBar.Activity = "Thinking..."

	return m, sendCmd(ctx, m.deps.Coordinator, value, m.gen)
}

// handleSnapshot renders a consumer update into the assistant message.
func (m ChatModel) handleSnapshot(s chatsdk.Snapshot) (tea.Model, tea.Cmd) {
	switch s.State {
	case chatsdk.StateStreaming, chatsdk.StateFinalized:
		m.ensureReply()
		m.transcript.SetLast(s.Text)
		if s.State == chatsdk.StateStreaming {
			m.statusBar.Activity = "Answering..."
		}
	case chatsdk.StateAborted:
		// The partial text and reason arrive with SendDoneMsg.
	}
	return m, nil
}

// handleSendDone settles the UI after a send finished.
func (m ChatModel) handleSendDone(msg SendDoneMsg) (tea.Model, tea.Cmd) {
	m.cancelFn = nil

	var abort *chatsdk.AbortError
	switch {
	case msg.Err == nil:
		m.ensureReply()
		m.transcript.EditLast(func(c *components.ChatMessage) {
			c.Content = msg.Result.Text
			c.Fallback = msg.Result.Fallback
		})

	case errors.As(msg.Err, &abort):
		m.ensureReply()
		m.transcript.EditLast(func(c *components.ChatMessage) {
			c.Content = abort.Partial
			c.Aborted = true
			c.Note = abort.Reason
		})

	case errors.Is(msg.Err, context.Canceled):
		// The user already saw the cancellation notice.

	default:
		m.deps.Logger.Debug("send failed", "error", msg.Err)
		m.addError(msg.Err)
	}

	// Only a finished answer consumes the queued attachments.
	m.syncPending()
	m.finishWaiting()
	return m, nil
}

func (m ChatModel) handleChatsLoaded(msg ChatsLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.addError(msg.Err)
		return m, nil
	}
	if len(msg.Chats) == 0 {
		m.addSystem("No saved conversations yet.")
		return m, nil
	}

	items := make([]components.PickerItem, len(msg.Chats))
	for i, c := range msg.Chats {
		items[i] = components.PickerItem{ID: c.ID, Title: c.Title, Meta: components.Ago(c.UpdatedAt, time.Now())}
	}
	m.picker.SetSize(m.width, m.height)
	m.picker.Open(fmt.Sprintf("Conversations (%d)", len(msg.Chats)), items, m.deps.Coordinator.SessionID())
	return m, nil
}

func (m ChatModel) handleHistoryLoaded(msg HistoryLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.addError(msg.Err)
		return m, nil
	}
	m.transcript.Clear()
	for _, cm := range msg.Messages {
		role := components.RoleUser
		if cm.Role == "assistant" {
			role = components.RoleAssistant
		}
		var names []string
		for _, a := range cm.Attachments {
			names = append(names, a.Filename)
		}
		m.transcript.Append(components.ChatMessage{
			Role:        role,
			Content:     cm.Text,
			Timestamp:   cm.CreatedAt,
			Attachments: names,
		})
	}
	m.addSystem(fmt.Sprintf("Resumed conversation %s (%d messages).", shortID(msg.SessionID), len(msg.Messages)))
	return m, nil
}

// handleSlashCommand processes a slash command.
func (m ChatModel) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.addSystem(`Available commands:
  /help          - Show this help
  /new           - Start a new conversation
  /chats         - Browse saved conversations (requires login)
  /open <id>     - Resume a saved conversation
  /delete <id>   - Delete a saved conversation
  /attach <file> - Attach a PDF or text file to the next message
  /cancel        - Cancel the active answer
  /quit          - Exit AskUni

Keybindings:
  Enter      - Send message
  Alt+Enter  - New line
  Up/Down    - Earlier questions
  Esc        - Cancel answer / scroll mode (/ to find)
  Ctrl+L     - New conversation
  Ctrl+C     - Cancel/Quit
  PgUp/PgDn  - Scroll chat`)
		return m, nil

	case "/quit", "/exit":
		m.cancelInFlight()
		m.quitting = true
		return m, tea.Quit

	case "/new":
		if m.waiting {
			m.cancelRequest("Answer cancelled.")
		}
		m.deps.Coordinator.NewChat()
		m.syncPending()
		m.transcript.Clear()
		m.refreshSession()
		m.addSystem(theme.SymbolSuccess + " New conversation.")
		return m, nil

	case "/chats":
		return m, loadChatsCmd(m.deps.Client)

	case "/open":
		if len(args) < 1 {
			m.addSystem("Usage: /open <id>")
			return m, nil
		}
		if m.waiting {
			m.cancelRequest("Answer cancelled.")
		}
		m.deps.Coordinator.Resume(args[0])
		m.refreshSession()
		return m, loadHistoryCmd(m.deps.Client, args[0])

	case "/delete":
		if len(args) < 1 {
			m.addSystem("Usage: /delete <id>")
			return m, nil
		}
		return m, deleteChatCmd(m.deps.Client, args[0])

	case "/attach":
		if len(args) < 1 {
			m.addSystem("Usage: /attach <file>")
			return m, nil
		}
		return m, attachCmd(m.deps.Client, strings.Join(args, " "))

	case "/cancel":
		if m.waiting {
			m.cancelRequest("Answer cancelled.")
		} else {
			m.addSystem("No active answer to cancel.")
		}
		return m, nil

	default:
		m.addSystem(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		return m, nil
	}
}

// ensureReply adds the assistant message for the current send once.
func (m *ChatModel) ensureReply() {
	if m.replying {
		return
	}
	m.replying = true
	m.transcript.Append(components.ChatMessage{
		Role:      components.RoleAssistant,
		Timestamp: time.Now(),
	})
}

// syncPending shows the Coordinator's queued attachments as chips.
func (m *ChatModel) syncPending() {
	var names []string
	for _, a := range m.deps.Coordinator.Pending() {
		names = append(names, a.Filename)
	}
	m.setPending(names)
}

func (m *ChatModel) setPending(names []string) {
	m.pendingFiles = names
	m.input.SetPending(names)
	m.layout()
}

func (m *ChatModel) addSystem(text string) {
	m.transcript.Append(components.ChatMessage{Role: components.RoleSystem, Content: text})
}

func (m *ChatModel) addError(err error) {
	m.transcript.Append(components.ChatMessage{
		Role:    components.RoleError,
		Content: uxerror.Humanize(err).Render(),
	})
}

func (m *ChatModel) cancelInFlight() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
}

// cancelRequest cancels the in-flight send, bumps the generation counter so
// any stale updates are discarded, and resets the UI state. A partial answer
// stays on screen marked as interrupted.
func (m *ChatModel) cancelRequest(reason string) {
	m.cancelInFlight()
	m.gen++
	if m.replying {
		m.transcript.EditLast(func(c *components.ChatMessage) {
			c.Aborted = true
			c.Note = "cancelled"
		})
	}
	m.finishWaiting()
	m.addSystem(reason)
}

func (m *ChatModel) finishWaiting() {
	m.waiting = false
	m.replying = false
	m.vimMode = false
	m.input.SetEnabled(true)
	m.statusBar.Hints = defaultHints()
	m.statusBar.Activity = ""
	m.refreshSession()
}

// refreshSession shows the active conversation in the status bar.
func (m *ChatModel) refreshSession() {
	id := m.deps.Coordinator.SessionID()
	if id == "" {
		m.statusBar.Session = "new chat"
		return
	}
	m.statusBar.Session = "chat " + shortID(id)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Alt+Enter", Desc: "Newline"},
		{Key: "Esc", Desc: "Cancel/scroll"},
		{Key: "?", Desc: "/help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
