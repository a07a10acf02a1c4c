package components

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"askuni/internal/adapter/tui/theme"
)

// PickerItem is one saved conversation.
type PickerItem struct {
	ID    string
	Title string
	Meta  string // e.g. "2h ago"
}

// PickMsg asks to resume the conversation with ID.
type PickMsg struct{ ID string }

// PickDeleteMsg asks to delete the conversation with ID.
type PickDeleteMsg struct{ ID string }

// PickerModel is a full-screen list of saved conversations. Enter resumes
// the selected one and d deletes it after a second d.
type PickerModel struct {
	Title   string
	Visible bool
	Items   []PickerItem

	cursor  int
	top     int
	confirm bool
	width   int
	height  int
}

// Open shows items with the cursor on the one whose ID is current.
func (m *PickerModel) Open(title string, items []PickerItem, current string) {
	m.Title = title
	m.Items = items
	m.Visible = true
	m.cursor, m.top, m.confirm = 0, 0, false
	for i, it := range items {
		if it.ID == current {
			m.cursor = i
		}
	}
	m.clampTop()
}

// Close hides the picker.
func (m *PickerModel) Close() {
	m.Visible = false
	m.confirm = false
}

// SetSize sets the screen size.
func (m *PickerModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.clampTop()
}

// Selected returns the item under the cursor.
func (m PickerModel) Selected() (PickerItem, bool) {
	if m.cursor < 0 || m.cursor >= len(m.Items) {
		return PickerItem{}, false
	}
	return m.Items[m.cursor], true
}

// Remove drops the item with id, keeping the cursor in range.
func (m *PickerModel) Remove(id string) {
	for i, it := range m.Items {
		if it.ID == id {
			m.Items = append(m.Items[:i], m.Items[i+1:]...)
			break
		}
	}
	if m.cursor >= len(m.Items) {
		m.cursor = len(m.Items) - 1
	}
	m.clampTop()
}

func (m PickerModel) rows() int {
	return max(m.height-6, 3)
}

func (m *PickerModel) clampTop() {
	if m.cursor < m.top {
		m.top = max(m.cursor, 0)
	}
	if m.cursor >= m.top+m.rows() {
		m.top = m.cursor - m.rows() + 1
	}
}

// Update moves the cursor and emits PickMsg or PickDeleteMsg.
func (m PickerModel) Update(msg tea.Msg) (PickerModel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !m.Visible || !ok {
		return m, nil
	}
	if key.String() != "d" {
		m.confirm = false
	}
	switch key.String() {
	case "esc", "q":
		m.Close()
	case "down", "j":
		if m.cursor < len(m.Items)-1 {
			m.cursor++
		}
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = len(m.Items) - 1
	case "enter":
		if it, ok := m.Selected(); ok {
			m.Close()
			return m, func() tea.Msg { return PickMsg{ID: it.ID} }
		}
	case "d":
		it, ok := m.Selected()
		if !ok {
			break
		}
		if !m.confirm {
			m.confirm = true
			break
		}
		m.confirm = false
		return m, func() tea.Msg { return PickDeleteMsg{ID: it.ID} }
	}
	m.clampTop()
	return m, nil
}

// View renders the list inside a bordered panel.
func (m PickerModel) View() string {
	if !m.Visible {
		return ""
	}
	inner := max(m.width-6, 20)

	var sb strings.Builder
	sb.WriteString(theme.Bold.Render(m.Title) + "\n\n")
	if len(m.Items) == 0 {
		sb.WriteString(theme.TextMuted.Render("No saved conversations."))
	}
	end := min(m.top+m.rows(), len(m.Items))
	for i := m.top; i < end; i++ {
		it := m.Items[i]
		title := it.Title
		if title == "" {
			title = "(untitled)"
		}
		meta := theme.TextMuted.Render(fmt.Sprintf("%-10s", it.Meta))
		room := max(inner-lipgloss.Width(meta)-4, 8)
		if len([]rune(title)) > room {
			title = string([]rune(title)[:room-1]) + theme.SymbolEllipsis
		}
		if i == m.cursor {
			sb.WriteString(theme.Selected.Render(theme.SymbolArrowR+" ") + meta + " " + theme.Selected.Render(title))
		} else {
			sb.WriteString("  " + meta + " " + title)
		}
		sb.WriteString("\n")
	}

	footer := "Enter open  d delete  Esc close"
	if m.confirm {
		footer = theme.TextError.Render("Press d again to delete this conversation")
	}
	sb.WriteString("\n" + theme.Dim.Render(footer))

	return theme.Panel.Width(max(m.width-2, 24)).Height(max(m.height-2, 5)).Render(sb.String())
}
