package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"askuni/internal/adapter/tui/theme"
)

// InputSubmitMsg carries a question or slash command the user sent.
type InputSubmitMsg struct {
	Value string
}

// CommandDef describes a slash command offered as a suggestion.
type CommandDef struct {
	Name  string // "/open"
	Args  string // "<id>", empty when the command takes none
	Usage string
}

const (
	composerRows   = 3
	maxSuggestions = 6
	maxRecall      = 50
)

// ComposerModel is the question editor. It suggests slash commands while
// one is being typed, recalls earlier questions with Up/Down on an empty
// line and shows the attachments queued for the next question.
type ComposerModel struct {
	Textarea textarea.Model
	Enabled  bool

	commands    []CommandDef
	suggestions []CommandDef
	pick        int

	recall    []string
	recallPos int // len(recall) when not browsing

	pending []string
	width   int
}

// NewComposer creates a focused editor offering commands.
func NewComposer(placeholder string, commands []CommandDef) ComposerModel {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.Prompt = "? "
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(composerRows)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.Prompt
	ta.FocusedStyle.Placeholder = theme.Placeholder
	ta.Focus()
	return ComposerModel{Textarea: ta, Enabled: true, commands: commands}
}

// SetWidth resizes the editor.
func (m *ComposerModel) SetWidth(w int) {
	m.width = w
	m.Textarea.SetWidth(w - 2)
}

// SetEnabled focuses or blurs the editor.
func (m *ComposerModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
		return
	}
	m.Textarea.Blur()
}

// SetPending replaces the attachment chips.
func (m *ComposerModel) SetPending(names []string) {
	m.pending = append(m.pending[:0], names...)
}

// Value returns the text being edited.
func (m ComposerModel) Value() string { return m.Textarea.Value() }

// Suggesting reports whether the command popup is open.
func (m ComposerModel) Suggesting() bool { return len(m.suggestions) > 0 }

// Height is the number of lines View occupies.
func (m ComposerModel) Height() int {
	h := composerRows
	if len(m.pending) > 0 {
		h++
	}
	if n := len(m.suggestions); n > 0 {
		h += min(n, maxSuggestions) + 2
	}
	return h
}

// Update edits the text. Enter sends, Alt+Enter breaks the line.
func (m ComposerModel) Update(msg tea.Msg) (ComposerModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		if _, mouse := msg.(tea.MouseMsg); mouse {
			return m, nil
		}
		var cmd tea.Cmd
		m.Textarea, cmd = m.Textarea.Update(msg)
		return m, cmd
	}

	if m.Suggesting() {
		switch key.Type {
		case tea.KeyDown, tea.KeyTab:
			m.pick = (m.pick + 1) % len(m.suggestions)
			return m, nil
		case tea.KeyUp, tea.KeyShiftTab:
			m.pick = (m.pick - 1 + len(m.suggestions)) % len(m.suggestions)
			return m, nil
		case tea.KeyEsc:
			m.suggestions = nil
			return m, nil
		case tea.KeyEnter:
			c := m.suggestions[m.pick]
			m.suggestions = nil
			if c.Args == "" {
				return m.submit(c.Name)
			}
			m.Textarea.SetValue(c.Name + " ")
			m.Textarea.CursorEnd()
			return m, nil
		}
	}

	switch key.Type {
	case tea.KeyEnter:
		if key.Alt {
			m.Textarea.InsertString("\n")
			return m, nil
		}
		return m.submit(m.Textarea.Value())
	case tea.KeyUp:
		if m.browse(-1) {
			return m, nil
		}
	case tea.KeyDown:
		if m.browse(1) {
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	m.suggest()
	return m, cmd
}

func (m ComposerModel) submit(value string) (ComposerModel, tea.Cmd) {
	value = strings.TrimSpace(value)
	if value == "" {
		return m, nil
	}
	if n := len(m.recall); n == 0 || m.recall[n-1] != value {
		m.recall = append(m.recall, value)
		if len(m.recall) > maxRecall {
			m.recall = m.recall[1:]
		}
	}
	m.recallPos = len(m.recall)
	m.Textarea.Reset()
	m.suggestions = nil
	return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
}

// browse steps through earlier questions. It only acts while the editor
// holds nothing typed by hand, so arrow keys still move the cursor in a
// draft.
func (m *ComposerModel) browse(step int) bool {
	if len(m.recall) == 0 {
		return false
	}
	browsing := m.recallPos < len(m.recall)
	if !browsing && (m.Textarea.Value() != "" || step > 0) {
		return false
	}
	pos := m.recallPos + step
	if pos < 0 {
		return true
	}
	m.recallPos = pos
	if pos >= len(m.recall) {
		m.recallPos = len(m.recall)
		m.Textarea.Reset()
		return true
	}
	m.Textarea.SetValue(m.recall[pos])
	m.Textarea.CursorEnd()
	return true
}

func (m *ComposerModel) suggest() {
	v := m.Textarea.Value()
	m.suggestions = nil
	if !strings.HasPrefix(v, "/") || strings.ContainsAny(v, " \n") {
		return
	}
	v = strings.ToLower(v)
	for _, c := range m.commands {
		if strings.HasPrefix(c.Name, v) {
			m.suggestions = append(m.suggestions, c)
		}
	}
	if m.pick >= len(m.suggestions) {
		m.pick = 0
	}
}

// View renders the popup, the chips and the editor, top to bottom.
func (m ComposerModel) View() string {
	var parts []string
	if m.Suggesting() {
		parts = append(parts, m.popup())
	}
	if len(m.pending) > 0 {
		chips := make([]string, len(m.pending))
		for i, name := range m.pending {
			chips[i] = theme.Chip.Render(theme.SymbolAttach + " " + TruncatePath(name, 28))
		}
		parts = append(parts, strings.Join(chips, " "))
	}
	parts = append(parts, m.Textarea.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m ComposerModel) popup() string {
	show := m.suggestions
	if len(show) > maxSuggestions {
		show = show[:maxSuggestions]
	}
	lines := make([]string, len(show))
	for i, c := range show {
		head := c.Name
		if c.Args != "" {
			head += " " + c.Args
		}
		head = lipgloss.NewStyle().Width(16).Render(head)
		if i == m.pick {
			lines[i] = theme.Selected.Render(theme.SymbolArrowR+" "+head) + theme.TextMuted.Render(c.Usage)
		} else {
			lines[i] = "  " + head + theme.TextMuted.Render(c.Usage)
		}
	}
	return theme.Panel.Render(strings.Join(lines, "\n"))
}

// ParseSlashCommand splits "/cmd a b" into its lowercased name and args.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
