package components

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"askuni/internal/adapter/tui/theme"
)

// Ago describes t relative to now: "just now", "5m ago", "3h ago",
// "yesterday" or a date.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 48*time.Hour:
		return "yesterday"
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2 2006")
}

// Wrap breaks s into lines of at most width runes at spaces. Words longer
// than width are split. Existing line breaks are kept.
func Wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			for utf8.RuneCountInString(word) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				r := []rune(word)
				out = append(out, string(r[:width]))
				word = string(r[width:])
			}
			switch {
			case line == "":
				line = word
			case utf8.RuneCountInString(line)+1+utf8.RuneCountInString(word) <= width:
				line += " " + word
			default:
				out = append(out, line)
				line = word
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// TruncatePath shortens a path to at most n runes, keeping the file name
// and as much of its parent as fits.
func TruncatePath(path string, n int) string {
	if utf8.RuneCountInString(path) <= n || n < 8 {
		return path
	}
	keep := n - utf8.RuneCountInString(theme.SymbolEllipsis)
	base := filepath.Base(path)
	if r := []rune(base); len(r) >= keep {
		return string(r[:keep]) + theme.SymbolEllipsis
	}
	short := theme.SymbolEllipsis + string(filepath.Separator) + base
	if dir := filepath.Base(filepath.Dir(path)); dir != "." && dir != string(filepath.Separator) {
		if cand := theme.SymbolEllipsis + string(filepath.Separator) + filepath.Join(dir, base); utf8.RuneCountInString(cand) <= n {
			short = cand
		}
	}
	return short
}

// Divider is a full-width rule.
func Divider(width int) string {
	return lipgloss.NewStyle().Foreground(theme.ColorFaint).Render(strings.Repeat("─", max(width, 0)))
}
