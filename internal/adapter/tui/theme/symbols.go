package theme

import (
	"os"
	"strings"
)

// Glyphs used across the client. They switch to ASCII on terminals that
// cannot draw them.
var (
	SymbolSuccess  string
	SymbolError    string
	SymbolArrowR   string
	SymbolBullet   string
	SymbolEllipsis string
	SymbolAttach   string
	SymbolUser     = "You"
	SymbolBot      = "AskUni"

	// ASCII is true while the plain glyph set is active.
	ASCII bool
)

func init() {
	UseASCII(!unicodeTerminal(os.Getenv))
}

// UseASCII switches every glyph to its plain-ASCII form, or back.
func UseASCII(ascii bool) {
	ASCII = ascii
	if ascii {
		SymbolSuccess, SymbolError = "+", "x"
		SymbolArrowR, SymbolBullet, SymbolEllipsis = ">", "*", "..."
		SymbolAttach = "[file]"
		return
	}
	SymbolSuccess, SymbolError = "✓", "✗"
	SymbolArrowR, SymbolBullet, SymbolEllipsis = "→", "•", "…"
	SymbolAttach = "\U0001F4CE"
}

// unicodeTerminal reports whether glyphs can be drawn. ASKUNI_ASCII=1 and
// TERM=dumb force ASCII; a non-UTF-8 locale does too when one is set.
func unicodeTerminal(getenv func(string) string) bool {
	if v := getenv("ASKUNI_ASCII"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	if getenv("TERM") == "dumb" {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := strings.ToLower(getenv(key))
		if v == "" {
			continue
		}
		return strings.Contains(v, "utf-8") || strings.Contains(v, "utf8")
	}
	return true
}
