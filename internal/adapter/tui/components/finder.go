package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"askuni/internal/adapter/tui/theme"
)

// FinderState is the phase of a transcript search.
type FinderState int

const (
	FinderClosed FinderState = iota
	FinderTyping
	FinderBrowsing
)

// FindMsg is emitted when the user confirms a query.
type FindMsg struct {
	Query string
}

// FinderModel searches the transcript message by message.
type FinderModel struct {
	State FinderState
	Query string
	input textinput.Model
	hits  []int // message indexes
	at    int
}

// NewFinder creates a closed finder.
func NewFinder() FinderModel {
	ti := textinput.New()
	ti.Prompt = "find: "
	ti.Placeholder = "words to look for"
	ti.PromptStyle = theme.Prompt
	ti.PlaceholderStyle = theme.Placeholder
	return FinderModel{input: ti}
}

// Open starts a new query.
func (m *FinderModel) Open(width int) {
	m.State = FinderTyping
	m.Query = ""
	m.hits, m.at = nil, 0
	m.input.Width = max(width-12, 10)
	m.input.SetValue("")
	m.input.Focus()
}

// Close drops the query and its hits.
func (m *FinderModel) Close() {
	m.State = FinderClosed
	m.input.Blur()
	m.Query = ""
	m.hits, m.at = nil, 0
}

// SetHits stores the messages matching Query.
func (m *FinderModel) SetHits(hits []int) {
	m.hits = hits
	m.at = 0
}

// Current returns the selected hit, or -1.
func (m FinderModel) Current() int {
	if len(m.hits) == 0 {
		return -1
	}
	return m.hits[m.at]
}

// Step moves the selection by delta, wrapping, and returns the new hit.
func (m *FinderModel) Step(delta int) int {
	if len(m.hits) == 0 {
		return -1
	}
	m.at = ((m.at+delta)%len(m.hits) + len(m.hits)) % len(m.hits)
	return m.hits[m.at]
}

// Update edits the query while typing. Enter confirms with a FindMsg.
func (m FinderModel) Update(msg tea.Msg) (FinderModel, tea.Cmd) {
	if m.State != FinderTyping {
		return m, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc:
			m.Close()
			return m, nil
		case tea.KeyEnter:
			m.Query = m.input.Value()
			m.State = FinderBrowsing
			m.input.Blur()
			q := m.Query
			return m, func() tea.Msg { return FindMsg{Query: q} }
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders one line, or nothing when closed.
func (m FinderModel) View() string {
	switch m.State {
	case FinderTyping:
		return " " + m.input.View()
	case FinderBrowsing:
		count := theme.TextMuted.Render("no matches")
		if len(m.hits) > 0 {
			count = theme.TextInfo.Render(fmt.Sprintf("%d of %d", m.at+1, len(m.hits)))
		}
		return fmt.Sprintf(" find: %s  %s  %s", theme.Bold.Render(m.Query), count, theme.Dim.Render("n/N next/prev  Esc close"))
	}
	return ""
}
