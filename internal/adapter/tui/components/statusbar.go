package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"askuni/internal/adapter/tui/theme"
)

// KeyHint is a key and what it does.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: key hints on the left, the server,
// account and conversation on the right, and the current activity while an
// answer is on its way.
type StatusBarModel struct {
	Hints    []KeyHint
	Server   string
	Account  string // "guest" or "signed in"
	Session  string // "new chat" or "chat 01HV…"
	Activity string
	width    int
}

// SetWidth sets the bar width.
func (m *StatusBarModel) SetWidth(w int) { m.width = w }

// View renders the bar, dropping hints from the right when space runs out.
func (m StatusBarModel) View() string {
	var info []string
	for _, s := range []string{m.Server, m.Account, m.Session} {
		if s != "" {
			info = append(info, s)
		}
	}
	right := theme.TextMuted.Render(strings.Join(info, " "+theme.SymbolBullet+" "))
	if m.Activity != "" {
		right = theme.TextInfo.Render(m.Activity) + "  " + right
	}

	room := m.width - lipgloss.Width(right) - 3
	var left string
	for _, h := range m.Hints {
		part := theme.StatusKey.Render(h.Key) + " " + h.Desc
		if left != "" {
			part = "  " + part
		}
		if lipgloss.Width(left+part) > room {
			break
		}
		left += part
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
