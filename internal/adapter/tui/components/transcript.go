package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"askuni/internal/adapter/tui/theme"
)

// MessageRole says who a transcript entry comes from.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleError     MessageRole = "error"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	Role        MessageRole
	Content     string
	Timestamp   time.Time
	Attachments []string // file names sent with a question

	Aborted  bool   // the answer stopped early
	Note     string // why it stopped
	Fallback bool   // answered by the blocking endpoint

	markdown string // rendered answer, empty when stale
}

// TranscriptModel is the scrollable conversation. It follows new output
// while the view sits at the bottom and stays put once the user scrolls up.
type TranscriptModel struct {
	Viewport viewport.Model

	msgs    []ChatMessage
	limit   int
	dropped int
	starts  []int // first line of each entry in the rendered content
	width   int
	md      *glamour.TermRenderer
	follow  bool
	sized   bool
}

// NewTranscript keeps at most limit entries; 0 keeps everything.
func NewTranscript(limit int) TranscriptModel {
	return TranscriptModel{limit: limit, follow: true}
}

// Messages returns the entries currently held.
func (m TranscriptModel) Messages() []ChatMessage { return m.msgs }

// SetSize resizes the viewport. Answers are re-rendered when the width
// changes.
func (m *TranscriptModel) SetSize(w, h int) {
	if !m.sized {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.sized = true
	}
	m.Viewport.Width, m.Viewport.Height = w, h
	if w != m.width {
		m.width = w
		m.md = nil
		for i := range m.msgs {
			m.msgs[i].markdown = ""
		}
	}
	m.redraw()
}

// Append adds an entry, dropping the oldest past the limit.
func (m *TranscriptModel) Append(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.msgs = append(m.msgs, msg)
	if over := len(m.msgs) - m.limit; m.limit > 0 && over > 0 {
		m.msgs = append(m.msgs[:0], m.msgs[over:]...)
		m.dropped += over
	}
	m.redraw()
}

// SetLast replaces the text of the newest entry.
func (m *TranscriptModel) SetLast(text string) {
	m.EditLast(func(c *ChatMessage) { c.Content = text })
}

// EditLast applies fn to the newest entry.
func (m *TranscriptModel) EditLast(fn func(*ChatMessage)) {
	if len(m.msgs) == 0 {
		return
	}
	last := &m.msgs[len(m.msgs)-1]
	fn(last)
	last.markdown = ""
	m.redraw()
}

// Clear empties the transcript.
func (m *TranscriptModel) Clear() {
	m.msgs = nil
	m.dropped = 0
	m.follow = true
	m.redraw()
	m.Viewport.GotoTop()
}

// Update scrolls the viewport.
func (m TranscriptModel) Update(msg tea.Msg) (TranscriptModel, tea.Cmd) {
	if !m.sized {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.follow = m.Viewport.AtBottom()
	return m, cmd
}

// Find returns the indexes of entries containing every word of query,
// ignoring case.
func (m TranscriptModel) Find(query string) []int {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}
	var hits []int
next:
	for i, msg := range m.msgs {
		text := strings.ToLower(msg.Content)
		for _, w := range words {
			if !strings.Contains(text, w) {
				continue next
			}
		}
		hits = append(hits, i)
	}
	return hits
}

// ScrollTo puts entry i at the top of the viewport.
func (m *TranscriptModel) ScrollTo(i int) {
	if i < 0 || i >= len(m.starts) {
		return
	}
	m.Viewport.SetYOffset(m.starts[i])
	m.follow = m.Viewport.AtBottom()
}

// ScrollBy moves the view n lines down, or up when n is negative.
func (m *TranscriptModel) ScrollBy(n int) {
	if n < 0 {
		m.Viewport.LineUp(-n)
	} else {
		m.Viewport.LineDown(n)
	}
	m.follow = m.Viewport.AtBottom()
}

// Top jumps to the first entry.
func (m *TranscriptModel) Top() {
	m.Viewport.GotoTop()
	m.follow = m.Viewport.AtBottom()
}

// Bottom jumps to the newest entry and follows new output again.
func (m *TranscriptModel) Bottom() {
	m.Viewport.GotoBottom()
	m.follow = true
}

// View renders the visible part of the transcript.
func (m TranscriptModel) View() string {
	if !m.sized {
		return "  Initializing..."
	}
	return m.Viewport.View()
}

func (m *TranscriptModel) redraw() {
	if !m.sized {
		return
	}
	m.Viewport.SetContent(m.render())
	if m.follow {
		m.Viewport.GotoBottom()
	}
}

func (m *TranscriptModel) render() string {
	m.starts = m.starts[:0]
	if len(m.msgs) == 0 {
		return theme.TextMuted.Render("  Ask anything about your university to get started.")
	}
	width := min(max(m.width-4, 40), theme.MaxContentWidth)

	var lines []string
	if m.dropped > 0 {
		lines = append(lines, theme.TextMuted.Render(fmt.Sprintf("  %d earlier messages not shown", m.dropped)), "")
	}
	for i := range m.msgs {
		if i > 0 {
			lines = append(lines, "")
		}
		m.starts = append(m.starts, len(lines))
		lines = append(lines, m.entry(&m.msgs[i], width)...)
	}
	return strings.Join(lines, "\n")
}

// entry renders a header line followed by the indented body.
func (m *TranscriptModel) entry(msg *ChatMessage, width int) []string {
	head := label(msg.Role) + " " + theme.Timestamp.Render(Ago(msg.Timestamp, time.Now()))
	if msg.Fallback {
		head += " " + theme.TextMuted.Render("(non-streaming)")
	}
	out := []string{head}

	for _, name := range msg.Attachments {
		out = append(out, "  "+theme.Dim.Render(theme.SymbolAttach+" "+TruncatePath(name, width-6)))
	}

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.markdown == "" && msg.Content != "" {
			msg.markdown = m.markdown(msg.Content, width)
		}
		body = strings.Trim(msg.markdown, "\n")
	case RoleError:
		body = theme.TextError.Render(Wrap(msg.Content, width-2))
	default:
		body = Wrap(msg.Content, width-2)
	}
	if body != "" {
		for _, l := range strings.Split(body, "\n") {
			out = append(out, "  "+l)
		}
	}

	if msg.Aborted {
		note := "Response interrupted."
		if msg.Note != "" {
			note += " " + msg.Note
		}
		out = append(out, "  "+theme.AbortedNote.Render(Wrap(note, width-2)))
	}
	return out
}

func (m *TranscriptModel) markdown(text string, width int) string {
	if m.md == nil {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err != nil {
			return Wrap(text, width)
		}
		m.md = r
	}
	out, err := m.md.Render(text)
	if err != nil {
		return Wrap(text, width)
	}
	return out
}

func label(role MessageRole) string {
	switch role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("AskUni")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Problem")
	}
	return theme.TextMuted.Render(string(role))
}
